package cmd

import (
	"context"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/otherjamesbrown/tradedoc-cli/config"
	"github.com/otherjamesbrown/tradedoc-cli/credentials"
	"github.com/otherjamesbrown/tradedoc-cli/pkg/ai"
	"github.com/otherjamesbrown/tradedoc-cli/pkg/batch"
	"github.com/otherjamesbrown/tradedoc-cli/pkg/documents"
	"github.com/otherjamesbrown/tradedoc-cli/pkg/events"
	"github.com/otherjamesbrown/tradedoc-cli/pkg/history"
	"github.com/otherjamesbrown/tradedoc-cli/pkg/logging"
	"github.com/otherjamesbrown/tradedoc-cli/pkg/shipment"
)

type MockAI struct {
	mock.Mock
}

func (m *MockAI) Enrich(ctx context.Context, req ai.EnrichRequest) (*ai.EnrichResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ai.EnrichResponse), args.Error(1)
}

func (m *MockAI) Validate(ctx context.Context, req ai.ValidateRequest) (*ai.ValidationResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ai.ValidationResult), args.Error(1)
}

func (m *MockAI) Extract(ctx context.Context, text string) (*ai.Extraction, error) {
	args := m.Called(ctx, text)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ai.Extraction), args.Error(1)
}

// testEnv is a Deps wired to in-memory backends.
type testEnv struct {
	deps     *Deps
	cfg      *config.CLIConfig
	ai       *MockAI
	docs     *documents.MemoryStore
	recorder *history.MemoryRecorder
	store    *credentials.Store
	prompts  []string
	answers  []string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	t.Setenv(credentials.APIKeyEnv, "")

	store, err := credentials.NewStoreAt(t.TempDir(),
		credentials.NewPassphraseKeyProvider("test-passphrase", []byte("0123456789abcdef")))
	require.NoError(t, err)

	env := &testEnv{
		cfg:      config.DefaultConfig(),
		ai:       new(MockAI),
		docs:     documents.NewMemoryStore(),
		recorder: history.NewMemoryRecorder(),
		store:    store,
	}
	env.deps = &Deps{
		LoadConfig: func() (*config.CLIConfig, error) {
			c := *env.cfg
			return &c, nil
		},
		SaveConfig: func(c *config.CLIConfig) error {
			*env.cfg = *c
			return nil
		},
		OpenCredentials: func() (*credentials.Store, error) { return env.store, nil },
		NewAI: func(*config.CLIConfig, string, logging.Logger) AIService {
			return env.ai
		},
		OpenDocuments: func(context.Context, *config.CLIConfig, logging.Logger) (documents.Store, error) {
			return env.docs, nil
		},
		OpenHistory: func(context.Context, *config.CLIConfig, logging.Logger) (history.Recorder, error) {
			return env.recorder, nil
		},
		OpenPublisher: func(*config.CLIConfig, logging.Logger) (*events.Publisher, error) {
			return nil, nil
		},
		KeyringAvailable: func() bool { return false },
		Prompt: func(label string, secret bool) (string, error) {
			env.prompts = append(env.prompts, label)
			if len(env.answers) == 0 {
				return "", nil
			}
			answer := env.answers[0]
			env.answers = env.answers[1:]
			return answer, nil
		},
		Sleeper: batch.NoSleep,
		Logger:  logging.NewNopLogger(),
	}
	return env
}

// withModel makes every row classify as a cotton shirt and validate cleanly.
func (e *testEnv) withModel() *testEnv {
	e.ai.On("Enrich", mock.Anything, mock.Anything).Return(&ai.EnrichResponse{
		HSCode:      "6109.10",
		Material:    "Cotton",
		IntendedUse: "Apparel",
		GrossWeight: 1.2,
		NetWeight:   1,
		Incoterm:    "DAP",
	}, nil)
	e.ai.On("Validate", mock.Anything, mock.Anything).Return(&ai.ValidationResult{Valid: true}, nil)
	return e
}

func (e *testEnv) signIn(t *testing.T) {
	t.Helper()
	require.NoError(t, e.store.SignIn(shipment.ExporterProfile{
		CompanyName: "Acme Exports",
		Address:     "1 Dock Road, Leeds",
	}))
}

func (e *testEnv) withAPIKey(t *testing.T) *testEnv {
	t.Helper()
	require.NoError(t, e.store.SetAPIKey("sk-test-1234567890"))
	return e
}
