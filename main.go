// Package main provides the entry point for the voxnav CLI.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/caarlos0/env/v11"
	"github.com/charmbracelet/log"
	gap "github.com/muesli/go-app-paths"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/nxkoi/vox-navigator/internal/audio"
	"github.com/nxkoi/vox-navigator/internal/device"
	"github.com/nxkoi/vox-navigator/internal/server"
	"github.com/nxkoi/vox-navigator/internal/synth"
	"github.com/nxkoi/vox-navigator/internal/wav"
	"github.com/nxkoi/vox-navigator/internal/xtts"
	"github.com/nxkoi/vox-navigator/utils"
)

var (
	// Version as provided by goreleaser.
	Version = ""
	// CommitSHA as provided by goreleaser.
	CommitSHA = ""

	configFile string

	rootCmd = &cobra.Command{
		Use:           "voxnav",
		Short:         "Serve a local neural text-to-speech engine over HTTP",
		SilenceErrors: false,
		SilenceUsage:  true,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the TTS HTTP server",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}

	speakCmd = &cobra.Command{
		Use:   "speak TEXT",
		Short: "Synthesize one utterance and print the output path",
		Args:  cobra.ExactArgs(1),
		RunE:  runSpeak,
	}

	devicesCmd = &cobra.Command{
		Use:   "devices",
		Short: "Detect and print the compute device",
		Args:  cobra.NoArgs,
		RunE:  runDevices,
	}

	speakOut  string
	speakPlay bool
)

// envOverrides are honored on top of flags and the config file.
type envOverrides struct {
	Runner string `env:"VOXNAV_RUNNER"`
	Model  string `env:"VOXNAV_MODEL"`
	Voice  string `env:"VOXNAV_VOICE"`
}

// engineConfig assembles the engine configuration from viper and the
// environment.
func engineConfig() (xtts.Config, error) {
	cfg := xtts.Config{
		Runner:     viper.GetString("engine.runner"),
		ModelPath:  utils.ExpandPath(viper.GetString("engine.model")),
		VoicePath:  utils.ExpandPath(viper.GetString("engine.voice")),
		Language:   viper.GetString("engine.language"),
		SampleRate: viper.GetInt("engine.sample_rate"),
		Timeout:    viper.GetDuration("engine.timeout"),
	}

	ov, err := env.ParseAs[envOverrides]()
	if err != nil {
		return xtts.Config{}, fmt.Errorf("error parsing environment: %w", err)
	}
	if ov.Runner != "" {
		cfg.Runner = ov.Runner
	}
	if ov.Model != "" {
		cfg.ModelPath = utils.ExpandPath(ov.Model)
	}
	if ov.Voice != "" {
		cfg.VoicePath = utils.ExpandPath(ov.Voice)
	}
	return cfg, nil
}

// newManager builds the long-lived synthesis manager. It is constructed
// once per process and handed to whichever command needs it.
func newManager() (*synth.Manager, error) {
	cfg, err := engineConfig()
	if err != nil {
		return nil, err
	}
	return synth.New(synth.Config{
		Selector:  device.NewSelector(cfg.Runner),
		Factory:   xtts.Factory(cfg),
		ModelPath: cfg.ModelPath,
		OutputDir: utils.ExpandPath(viper.GetString("output_dir")),
	}), nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	mgr, err := newManager()
	if err != nil {
		return err
	}
	defer mgr.Close() //nolint:errcheck

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := server.New(server.Config{
		Addr:           viper.GetString("listen"),
		SynthPerMinute: viper.GetInt("server.synth_per_minute"),
	}, mgr)
	return srv.ListenAndServe(ctx)
}

func runSpeak(cmd *cobra.Command, args []string) error {
	mgr, err := newManager()
	if err != nil {
		return err
	}
	defer mgr.Close() //nolint:errcheck

	path, err := mgr.Synthesize(cmd.Context(), args[0], utils.ExpandPath(speakOut))
	if err != nil {
		return err
	}
	fmt.Println(path)

	if !speakPlay {
		return nil
	}

	info, err := wav.ReadInfo(path)
	if err != nil {
		return fmt.Errorf("unable to read synthesized file: %w", err)
	}
	player, err := audio.NewPlayer(info.SampleRate, info.Channels)
	if err != nil {
		return err
	}
	log.Debug("Playing audio", "path", path, "duration", info.Duration())
	return player.PlayFile(path)
}

func runDevices(cmd *cobra.Command, _ []string) error {
	cfg, err := engineConfig()
	if err != nil {
		return err
	}
	d, err := device.NewSelector(cfg.Runner).Detect(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Printf("kind:    %s\nname:    %s\nbackend: %s\n", d.Kind, d.Name, d.Backend)
	if d.Detail != "" {
		fmt.Printf("detail:  %s\n", d.Detail)
	}
	return nil
}

// setupLog configures the global logger from the "debug" setting. When
// stderr is not a terminal, timestamps are added for log collectors.
func setupLog() {
	if viper.GetBool("debug") {
		log.SetLevel(log.DebugLevel)
	}
	if !term.IsTerminal(int(os.Stderr.Fd())) {
		log.SetReportTimestamp(true)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	tryLoadConfigFromDefaultPlaces()
	cobra.OnInitialize(setupLog)

	if len(CommitSHA) >= 7 {
		vt := rootCmd.VersionTemplate()
		rootCmd.SetVersionTemplate(vt[:len(vt)-1] + " (" + CommitSHA[0:7] + ")\n")
	}
	if Version == "" {
		Version = "unknown (built from source)"
	}
	rootCmd.Version = Version
	rootCmd.InitDefaultCompletionCmd()

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", fmt.Sprintf("config file (default %s)", viper.GetViper().ConfigFileUsed()))
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")
	_ = viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))

	serveCmd.Flags().String("listen", "", "listen address")
	_ = viper.BindPFlag("listen", serveCmd.Flags().Lookup("listen"))

	speakCmd.Flags().StringVarP(&speakOut, "out", "o", "", "output directory for the WAV file")
	speakCmd.Flags().BoolVarP(&speakPlay, "play", "p", false, "play the synthesized audio")

	viper.SetDefault("listen", "127.0.0.1:8000")
	viper.SetDefault("debug", false)
	viper.SetDefault("output_dir", "")

	// Engine defaults
	viper.SetDefault("engine.runner", xtts.DefaultRunner)
	viper.SetDefault("engine.model", "")
	viper.SetDefault("engine.voice", "")
	viper.SetDefault("engine.language", xtts.DefaultLanguage)
	viper.SetDefault("engine.sample_rate", xtts.DefaultSampleRate)
	viper.SetDefault("engine.timeout", "120s")

	// Server defaults
	viper.SetDefault("server.synth_per_minute", 30)

	rootCmd.AddCommand(serveCmd, speakCmd, devicesCmd, configCmd, manCmd)
}

func tryLoadConfigFromDefaultPlaces() {
	scope := gap.NewScope(gap.User, "voxnav")
	dirs, err := scope.ConfigDirs()
	if err != nil {
		fmt.Println("Could not find configuration directory.")
		os.Exit(1)
	}

	if c := os.Getenv("XDG_CONFIG_HOME"); c != "" {
		dirs = append([]string{filepath.Join(c, "voxnav")}, dirs...)
	}

	if c := os.Getenv("VOXNAV_CONFIG_HOME"); c != "" {
		dirs = append([]string{c}, dirs...)
	}

	for _, v := range dirs {
		viper.AddConfigPath(v)
	}

	viper.SetConfigName("voxnav")
	viper.SetConfigType("yaml")
	viper.SetEnvPrefix("voxnav")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Warn("Could not parse configuration file", "err", err)
		}
	}

	if used := viper.ConfigFileUsed(); used != "" {
		log.Debug("Using configuration file", "path", used)
		return
	}

	configFile = filepath.Join(dirs[0], "voxnav.yml")
	if err := ensureConfigFile(); err != nil {
		log.Error("Could not create default configuration", "error", err)
	}
}
