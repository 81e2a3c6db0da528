package cmds

import (
	"github.com/spf13/cobra"

	"github.com/go-go-golems/veyra/pkg/attachments"
	"github.com/go-go-golems/veyra/pkg/auth"
	"github.com/go-go-golems/veyra/pkg/backend"
	"github.com/go-go-golems/veyra/pkg/backend/openai"
	"github.com/go-go-golems/veyra/pkg/conversation"
	"github.com/go-go-golems/veyra/pkg/events"
	"github.com/go-go-golems/veyra/pkg/memory"
	"github.com/go-go-golems/veyra/pkg/session"
	"github.com/go-go-golems/veyra/pkg/settings"
)

// LoadSettings resolves the settings for cmd from its flags, the environment
// and the config file named by --config.
func LoadSettings(cmd *cobra.Command) (*settings.Settings, error) {
	configPath, _ := cmd.Flags().GetString("config")
	v, err := settings.NewViper(configPath)
	if err != nil {
		return nil, err
	}
	if err := settings.BindFlags(v, cmd); err != nil {
		return nil, err
	}
	return settings.Load(v)
}

const rateLimitBurst = 4

// App bundles the client side state of one CLI session.
type App struct {
	Settings   *settings.Settings
	Tokens     auth.TokenSource
	Client     *backend.Client
	Controller *session.Controller
	Memories   *memory.SyncClient
}

type AppOption func(*appOptions)

type appOptions struct {
	sinks []events.EventSink
	local bool
}

func WithSinks(sinks ...events.EventSink) AppOption {
	return func(o *appOptions) {
		o.sinks = append(o.sinks, sinks...)
	}
}

// WithLocalConversations keeps conversations in memory only, the backend is
// used for completions and uploads. Completions through an OpenAI compatible
// API always use local conversations.
func WithLocalConversations() AppOption {
	return func(o *appOptions) {
		o.local = true
	}
}

func NewApp(s *settings.Settings, options ...AppOption) *App {
	opts := &appOptions{}
	for _, o := range options {
		o(opts)
	}

	tokens := s.TokenSource()
	client := backend.NewClient(s.BackendURL).WithRateLimit(s.RateLimit, rateLimitBurst)

	var invoker backend.ModelInvoker = client
	if s.OpenAI.Enabled() {
		invoker = openai.NewInvoker(s.OpenAI.APIKey, s.OpenAI.BaseURL)
	}

	atts := attachments.NewManager(client, tokens,
		attachments.WithMaxSize(s.MaxUploadSize),
		attachments.WithUploadTimeout(s.UploadTimeout),
		attachments.WithEventSinks(opts.sinks...),
	)

	controllerOptions := []session.Option{
		session.WithEventSinks(opts.sinks...),
		session.WithRequestTimeout(s.RequestTimeout),
	}
	// turns are only recorded remotely when the backend serves the completion
	if !opts.local && !s.OpenAI.Enabled() {
		controllerOptions = append(controllerOptions, session.WithConversationBackend(client))
	}
	convs := conversation.NewConversationStore(nil, s.DefaultModel)

	return &App{
		Settings:   s,
		Tokens:     tokens,
		Client:     client,
		Controller: session.NewController(convs, atts, invoker, tokens, controllerOptions...),
		Memories:   memory.NewSyncClient(client, tokens),
	}
}
