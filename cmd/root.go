package cmd

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tanq16/pkgloader/internal/config"
	"github.com/tanq16/pkgloader/internal/downloaders/gitclone"
	pkghttp "github.com/tanq16/pkgloader/internal/downloaders/http"
	"github.com/tanq16/pkgloader/internal/downloaders/s3"
	"github.com/tanq16/pkgloader/internal/loader"
	"github.com/tanq16/pkgloader/internal/output"
	"github.com/tanq16/pkgloader/internal/scheduler"
	"github.com/tanq16/pkgloader/internal/streaming"
	"github.com/tanq16/pkgloader/internal/transfer"
	"github.com/tanq16/pkgloader/internal/utils"
)

var (
	configFile    string
	rateKBs       float64
	tickInterval  time.Duration
	params        []string
	baseURL       string
	namingService string
	timeout       time.Duration
	userAgent     string
	proxyURL      string
	proxyUsername string
	proxyPassword string
	headers       []string
	token         string
	awsProfile    string
	packageExt    string
	template      string
	debug         bool
	logFile       string
)

var LoaderVersion = "dev"

var rootCmd = &cobra.Command{
	Use:   "pkgloader [SOURCE...]",
	Short: "Fetch application packages and hand one over for activation",
	Long: `pkgloader downloads every package source concurrently, shows progress,
and activates the first delivered package once all sources have settled.
Sources may be http(s), s3, git+https or streaming: identifiers.`,
	Version: LoaderVersion,
	Args:    cobra.ArbitraryArgs,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		closer, err := utils.InitLogger(debug, logFile)
		if err != nil {
			return fmt.Errorf("error opening log file: %w", err)
		}
		cobra.OnFinalize(func() { closer.Close() })
		return nil
	},
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := buildConfig(cmd, args)
		if err != nil {
			output.PrintError(err.Error())
			os.Exit(1)
		}
		if err := runLoad(cfg); err != nil {
			fmt.Println()
			output.PrintError(err.Error())
			os.Exit(1)
		}
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.Flags().Float64VarP(&rateKBs, "rate", "r", 0, "Simulated transfer rate in KB per tick (0 downloads at full speed)")
	rootCmd.Flags().DurationVar(&tickInterval, "tick", transfer.DefaultTickInterval, "Interval between simulated progress updates")
	rootCmd.Flags().StringArrayVarP(&params, "param", "P", []string{}, "Start parameter as key=value (e.g. LoaderSourceList='a.xap;b.xap'); can be specified multiple times")
	rootCmd.Flags().StringVar(&baseURL, "base-url", "", "Document URL that relative sources are resolved against")
	rootCmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to YAML config file")
	rootCmd.Flags().StringVar(&packageExt, "package-ext", config.DefaultPackageExt, "Extension of the package to activate")
	rootCmd.Flags().StringVar(&template, "template", "", "Template name passed to the activated package")
	rootCmd.Flags().StringVar(&token, "token", "", "Bearer token for http sources, also used for git+https clones")
	rootCmd.Flags().StringVar(&awsProfile, "aws-profile", "", "AWS shared config profile for s3 sources")

	rootCmd.PersistentFlags().StringVar(&namingService, "naming-service", streaming.DefaultServiceRoot, "Naming service used to resolve streaming: sources")
	rootCmd.PersistentFlags().DurationVarP(&timeout, "timeout", "t", 3*time.Minute, "Connection timeout (eg. 5s, 10m)")
	rootCmd.PersistentFlags().StringVarP(&userAgent, "user-agent", "a", utils.ToolUserAgent, "User agent (\"randomize\" picks a browser agent)")
	rootCmd.PersistentFlags().StringVarP(&proxyURL, "proxy", "p", "", "HTTP/HTTPS proxy URL (e.g., proxy.example.com:8080)")
	rootCmd.PersistentFlags().StringVar(&proxyUsername, "proxy-username", "", "Proxy username (if not provided in proxy URL)")
	rootCmd.PersistentFlags().StringVar(&proxyPassword, "proxy-password", "", "Proxy password (if not provided in proxy URL)")
	rootCmd.PersistentFlags().StringArrayVarP(&headers, "header", "H", []string{}, "Custom headers (like 'Authorization: Basic dXNlcjpwYXNz'); can be specified multiple times")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Write logs to a file instead of stderr")
	rootCmd.PersistentFlags().Lookup("log-file").NoOptDefVal = utils.LogFile

	rootCmd.AddCommand(newResolveCmd())
}

// buildConfig loads the config file, if any, and overlays flags the user set.
func buildConfig(cmd *cobra.Command, args []string) (config.Config, error) {
	cfg := config.Default()
	if configFile != "" {
		var err error
		if cfg, err = config.Load(configFile); err != nil {
			return cfg, err
		}
	}
	flags := cmd.Flags()
	if len(args) > 0 {
		cfg.Sources = args
	}
	for k, v := range utils.ParseParamArgs(params) {
		cfg.Params[k] = v
	}
	if flags.Changed("rate") {
		cfg.RateKBs = rateKBs
	}
	if flags.Changed("tick") {
		cfg.TickInterval = tickInterval
	}
	if flags.Changed("base-url") {
		cfg.BaseURL = baseURL
	}
	if flags.Changed("package-ext") {
		cfg.PackageExt = packageExt
	}
	if flags.Changed("template") {
		cfg.Template = template
	}
	if flags.Changed("aws-profile") {
		cfg.AWSProfile = awsProfile
	}
	if flags.Changed("token") {
		cfg.HTTP.Token = token
	}
	overlayHTTP(cmd, &cfg)
	return cfg, cfg.Validate()
}

func overlayHTTP(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("naming-service") || cfg.NamingService == "" {
		cfg.NamingService = namingService
	}
	if flags.Changed("timeout") {
		cfg.HTTP.Timeout = timeout
	}
	if flags.Changed("user-agent") || cfg.HTTP.UserAgent == "" {
		cfg.HTTP.UserAgent = userAgent
	}
	if flags.Changed("proxy") {
		cfg.HTTP.ProxyURL = proxyURL
	}
	if flags.Changed("proxy-username") {
		cfg.HTTP.ProxyUsername = proxyUsername
	}
	if flags.Changed("proxy-password") {
		cfg.HTTP.ProxyPassword = proxyPassword
	}
	for k, v := range utils.ParseHeaderArgs(headers) {
		cfg.HTTP.Headers[k] = v
	}
	// Credentials embedded in the proxy URL win unless given explicitly.
	parsedProxy, err := url.Parse(cfg.HTTP.ProxyURL)
	if err == nil && parsedProxy.User != nil && cfg.HTTP.ProxyUsername == "" {
		cfg.HTTP.ProxyUsername = parsedProxy.User.Username()
		if password, set := parsedProxy.User.Password(); set {
			cfg.HTTP.ProxyPassword = password
		}
		parsedProxy.User = nil
		cfg.HTTP.ProxyURL = parsedProxy.String()
	}
}

func newHTTPClient(cfg config.Config) *utils.LoaderHTTPClient {
	return utils.NewLoaderHTTPClient(utils.HTTPClientConfig{
		Timeout:       cfg.HTTP.Timeout,
		KATimeout:     90 * time.Second,
		ProxyURL:      cfg.HTTP.ProxyURL,
		ProxyUsername: cfg.HTTP.ProxyUsername,
		ProxyPassword: cfg.HTTP.ProxyPassword,
		UserAgent:     cfg.HTTP.UserAgent,
		Headers:       cfg.HTTP.Headers,
		Token:         cfg.HTTP.Token,
	})
}

// newResolver gets a client of its own so source credentials never reach the
// naming service.
func newResolver(cfg config.Config) *streaming.Resolver {
	cfg.HTTP.Token = ""
	return streaming.NewResolver(newHTTPClient(cfg), cfg.NamingService)
}

func newRegistry(cfg config.Config, client utils.HTTPDoer) *transfer.Registry {
	reg := transfer.NewRegistry()
	reg.Register(pkghttp.New(client), pkghttp.Schemes...)
	reg.Register(s3.New(cfg.AWSProfile), s3.Scheme)
	reg.Register(gitclone.New(cfg.HTTP.Token), gitclone.Schemes...)
	return reg
}

func runLoad(cfg config.Config) error {
	sources, err := cfg.ResolveSources()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := newHTTPClient(cfg)
	reg := newRegistry(cfg, client)
	log.Debug().Str("op", "cmd/root").Msgf("registered schemes %v", reg.Schemes())
	manager := scheduler.NewManager(reg, newResolver(cfg), scheduler.Options{
		TickInterval: cfg.TickInterval,
	})

	display := output.NewManager(os.Stdout)
	ld := loader.New(ctx, display, loader.ConsoleActivator{}, loader.Options{
		PackageExt: cfg.PackageExt,
		Template:   cfg.EffectiveTemplate(),
	})
	output.PrintHeader(fmt.Sprintf("Loading %d package sources", len(sources)))
	display.StartDisplay()
	manager.Init(ctx, ld, sources, cfg.RateKBs)

	select {
	case <-ld.Done():
	case <-ctx.Done():
		log.Warn().Str("op", "cmd/root").Msg("interrupted, aborting transfers")
		output.PrintWarning("Interrupted, aborting transfers")
		manager.Abort()
		<-ld.Done()
	}
	display.StopDisplay()
	return ld.Summary().Err()
}
