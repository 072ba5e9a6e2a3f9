package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/ayusman/steadyshot/internal/app"
	"github.com/ayusman/steadyshot/internal/capture"
	"github.com/ayusman/steadyshot/internal/scan"
)

// Version is the application version.
const Version = "0.1.0"

// Options holds configuration shared by serve and snap.
type Options struct {
	CameraID    int
	FPS         int
	Mode        string
	CascadePath string
	EnvFile     string
}

var rootOpts Options

// envFlags maps flags to the environment variables that fill them when unset.
var envFlags = map[string]string{
	"camera":  "STEADYSHOT_CAMERA",
	"fps":     "STEADYSHOT_FPS",
	"mode":    "STEADYSHOT_MODE",
	"cascade": "STEADYSHOT_CASCADE",
	"addr":    "STEADYSHOT_ADDR",
	"web-dir": "STEADYSHOT_WEB_DIR",
}

var rootCmd = &cobra.Command{
	Use:     "steadyshot",
	Short:   "Hands-free face and ID card capture",
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := loadEnvFile(rootOpts.EnvFile); err != nil {
			return err
		}
		return applyEnv(cmd.Flags())
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().IntVarP(&rootOpts.CameraID, "camera", "c", 0, "Camera device index ($STEADYSHOT_CAMERA)")
	rootCmd.PersistentFlags().IntVar(&rootOpts.FPS, "fps", capture.DefaultFPS, "Frame rate requested from the camera, at most 30 ($STEADYSHOT_FPS)")
	rootCmd.PersistentFlags().StringVarP(&rootOpts.Mode, "mode", "m", "face", "Capture mode: face or id_card ($STEADYSHOT_MODE)")
	rootCmd.PersistentFlags().StringVar(&rootOpts.CascadePath, "cascade", "", "Haar cascade used when MediaPipe is unavailable ($STEADYSHOT_CASCADE)")
	rootCmd.PersistentFlags().StringVar(&rootOpts.EnvFile, "env-file", ".env", "Environment file loaded before flags are resolved")
}

// loadEnvFile loads path into the environment. A missing file is not an error.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// applyEnv fills every flag the user did not set from its environment variable.
func applyEnv(flags *pflag.FlagSet) error {
	for name, key := range envFlags {
		flag := flags.Lookup(name)
		if flag == nil || flag.Changed {
			continue
		}
		value, ok := os.LookupEnv(key)
		if !ok || value == "" {
			continue
		}
		if err := flags.Set(name, value); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}
	return nil
}

// newSession builds a session from the shared options.
func newSession(opts Options, onCapture func(scan.Result)) (*app.Session, error) {
	mode, err := scan.ParseMode(opts.Mode)
	if err != nil {
		return nil, err
	}

	camera := capture.NewCamera(opts.CameraID)
	camera.SetFPS(opts.FPS)

	return app.New(app.Config{
		Mode:      mode,
		Camera:    camera,
		Detectors: app.DetectorFactory(opts.CascadePath, nil),
		OnCapture: onCapture,
	}), nil
}
