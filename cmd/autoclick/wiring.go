package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Phazzie/autoclick/internal/actions"
	"github.com/Phazzie/autoclick/internal/conditions"
	"github.com/Phazzie/autoclick/internal/credentials"
	"github.com/Phazzie/autoclick/internal/datasource"
	"github.com/Phazzie/autoclick/internal/expressions"
	"github.com/Phazzie/autoclick/internal/loops"
	"github.com/Phazzie/autoclick/internal/page"
	"github.com/Phazzie/autoclick/internal/store"
	"github.com/Phazzie/autoclick/internal/validation"
)

// vaultSalt is the PBKDF2 salt for passphrase-derived vault keys.
// Sealed values live only in process memory, so a process-stable salt
// is all that is needed.
var vaultSalt = []byte("autoclick.vault.v1")

// buildDeps assembles the action capability set around a page session.
func buildDeps(sess page.Session, sources map[string]datasource.Source) (actions.Deps, error) {
	ev := expressions.NewEvaluator()
	interp := expressions.NewInterpolator(ev)
	cel, err := expressions.NewCELEngine()
	if err != nil {
		return actions.Deps{}, fmt.Errorf("cel engine: %w", err)
	}

	creds, err := newCredentialManager()
	if err != nil {
		return actions.Deps{}, err
	}

	return actions.Deps{
		Session: sess,
		Interp:  interp,
		Engines: map[string]expressions.Engine{
			"cel":      cel,
			"expr":     expressions.NewExprEngine(),
			"jq":       expressions.NewGoJQEngine(),
			"template": expressions.NewTemplateEngine(ev),
		},
		Conditions:  conditions.DefaultRegistry(),
		Loops:       loops.DefaultRegistry(),
		Credentials: creds,
		Sources:     sources,
		Registry:    actions.DefaultRegistry(),
	}, nil
}

// newCredentialManager seals secrets with AUTOCLICK_VAULT_KEY when set;
// without it credentials are held unsealed in memory.
func newCredentialManager() (credentials.Manager, error) {
	pass := os.Getenv("AUTOCLICK_VAULT_KEY")
	if pass == "" {
		return credentials.NewMemoryManager(nil), nil
	}
	sealer, err := credentials.NewAESSealer(credentials.SealerConfig{
		Passphrase: pass,
		Salt:       vaultSalt,
	})
	if err != nil {
		return nil, fmt.Errorf("vault sealer: %w", err)
	}
	return credentials.NewMemoryManager(sealer), nil
}

func newWorkflowValidator() (validation.Validator, error) {
	return validation.NewWorkflowValidator(validation.Registries{
		Actions:    actions.DefaultRegistry(),
		Conditions: conditions.DefaultRegistry(),
		Loops:      loops.DefaultRegistry(),
	})
}

// openStore opens run persistence. An empty or ":memory:" path yields
// the in-memory store; anything else is a libSQL file, migrated on
// open.
func openStore(ctx context.Context, dbPath string) (store.Store, error) {
	if dbPath == "" || dbPath == ":memory:" {
		return store.NewMemoryStore(), nil
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}
	uri := dbPath
	if !strings.HasPrefix(uri, "file:") {
		uri = "file:" + uri
	}
	st, err := store.NewLibSQLStore(uri)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return st, nil
}
