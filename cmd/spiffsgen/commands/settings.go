package commands

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/maxdollinger/spiffsgen/pkg/spiffs"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Settings is the resolved command line, environment and config file input.
type Settings struct {
	PageSize           int    `mapstructure:"page-size" validate:"required,gt=0"`
	BlockSize          int    `mapstructure:"block-size" validate:"required,gtefield=PageSize"`
	ObjNameLen         int    `mapstructure:"obj-name-len" validate:"gte=0"`
	MetaLen            int    `mapstructure:"meta-len" validate:"gte=0"`
	UseMagic           bool   `mapstructure:"use-magic"`
	UseMagicLen        bool   `mapstructure:"use-magic-len"`
	FollowSymlinks     bool   `mapstructure:"follow-symlinks"`
	BigEndian          bool   `mapstructure:"big-endian"`
	AlignedObjIxTables bool   `mapstructure:"aligned-obj-ix-tables"`
	Report             bool   `mapstructure:"report"`
	LogLevel           string `mapstructure:"log-level" validate:"required,oneof=debug info warn error DEBUG INFO WARN ERROR"`
	LogFormat          string `mapstructure:"log-format" validate:"required,oneof=text json"`
}

// Options returns the image geometry. Field widths not exposed on the
// command line keep their defaults.
func (s *Settings) Options() spiffs.Options {
	opts := spiffs.DefaultOptions()
	opts.PageSize = s.PageSize
	opts.BlockSize = s.BlockSize
	opts.ObjNameLen = s.ObjNameLen
	opts.MetaLen = s.MetaLen
	opts.UseMagic = s.UseMagic
	opts.UseMagicLen = s.UseMagicLen
	opts.BigEndian = s.BigEndian
	opts.AlignedObjIxTables = s.AlignedObjIxTables
	return opts
}

func addSettingsFlags(cmd *cobra.Command) {
	defaults := spiffs.DefaultOptions()
	flags := cmd.PersistentFlags()

	flags.String("config", "", "YAML config file")
	flags.Int("page-size", defaults.PageSize, "logical page size")
	flags.Int("block-size", defaults.BlockSize, "logical block size")
	flags.Int("obj-name-len", defaults.ObjNameLen, "file name maximum length")
	flags.Int("meta-len", defaults.MetaLen, "file metadata length")
	flags.Bool("use-magic", defaults.UseMagic, "use magic numbers")
	flags.Bool("no-magic", false, "do not use magic numbers")
	flags.Bool("use-magic-len", defaults.UseMagicLen, "use position in memory to create different magic numbers for each block")
	flags.Bool("no-magic-len", false, "use the same magic number for every block")
	flags.Bool("follow-symlinks", false, "follow symbolic links to directories")
	flags.Bool("big-endian", defaults.BigEndian, "write a big endian image")
	flags.Bool("aligned-obj-ix-tables", defaults.AlignedObjIxTables, "align object index tables to the page index width")
	flags.Bool("report", false, "print per block usage")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("log-format", "text", "log format (text, json)")
}

// loadSettings merges flags, SPIFFSGEN_* environment variables and the
// optional config file, flags taking precedence.
func loadSettings(cmd *cobra.Command) (*Settings, error) {
	v := viper.New()
	v.SetEnvPrefix("SPIFFSGEN")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return nil, fmt.Errorf("bind flags: %w", err)
	}

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal settings: %w", err)
	}

	// the negative switches always win over their positive counterparts
	if v.GetBool("no-magic") {
		s.UseMagic = false
	}
	if v.GetBool("no-magic-len") {
		s.UseMagicLen = false
	}

	if err := validateSettings(&s); err != nil {
		return nil, err
	}
	return &s, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func validateSettings(s *Settings) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate settings: %w", err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s fails %q (got %v)", fe.Field(), fe.Tag(), fe.Value()))
	}
	return fmt.Errorf("%w: %s", spiffs.ErrInvalidConfig, strings.Join(msgs, "; "))
}

// parseImageSize accepts decimal, 0x hex and 0o octal sizes. A decimal with a
// leading zero is rejected rather than read as octal.
func parseImageSize(s string) (int64, error) {
	digits := strings.TrimLeft(s, "+-")
	if len(digits) > 1 && digits[0] == '0' && (digits[1] == '_' || (digits[1] >= '0' && digits[1] <= '9')) {
		return 0, fmt.Errorf("invalid image size %q: leading zeros are not allowed, use 0o for octal", s)
	}

	size, err := strconv.ParseInt(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid image size %q: %w", s, err)
	}
	if size <= 0 {
		return 0, fmt.Errorf("%w: image size must be positive, got %d", spiffs.ErrInvalidConfig, size)
	}
	return size, nil
}
