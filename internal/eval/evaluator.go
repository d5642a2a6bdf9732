package eval

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/actiongraph/actiongraph/internal/ir"
	"github.com/apple/pkl-go/pkl"
	"github.com/go-playground/validator/v10"
)

// Evaluator handles PKL evaluation of build configurations.
type Evaluator struct {
	projectDir string
}

func NewEvaluator(projectDir string) *Evaluator {
	return &Evaluator{
		projectDir: projectDir,
	}
}

// LoadBuildConfig evaluates a build configuration module. Relative entry
// points are resolved against the project directory. Properties are exposed
// to the module as read("prop:<name>").
func (e *Evaluator) LoadBuildConfig(ctx context.Context, entryPoint string, properties map[string]string) (*ir.BuildConfig, error) {
	if !filepath.IsAbs(entryPoint) {
		entryPoint = filepath.Join(e.projectDir, entryPoint)
	}

	opts := []func(*pkl.EvaluatorOptions){pkl.PreconfiguredOptions}
	if len(properties) > 0 {
		opts = append(opts, func(o *pkl.EvaluatorOptions) {
			if o.Properties == nil {
				o.Properties = make(map[string]string)
			}
			for k, v := range properties {
				o.Properties[k] = v
			}
		})
	}

	evaluator, err := pkl.NewEvaluator(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create PKL evaluator: %w", err)
	}
	defer evaluator.Close()

	var cfg ir.BuildConfig
	if err := evaluator.EvaluateModule(ctx, pkl.FileSource(entryPoint), &cfg); err != nil {
		return nil, fmt.Errorf("failed to evaluate build config %s: %w", entryPoint, err)
	}
	return &cfg, nil
}

var (
	validate      = validator.New()
	platformRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.+/-]*$`)
)

func init() {
	_ = validate.RegisterValidation("platform", validatePlatform)
}

// validatePlatform accepts platform names usable as store key segments.
func validatePlatform(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	return platformRegex.MatchString(s) && !strings.Contains(s, "..")
}

// Validate checks a build configuration. Every violated rule is reported.
func Validate(cfg *ir.BuildConfig) error {
	if cfg == nil {
		return fmt.Errorf("build configuration is nil")
	}
	err := validate.Struct(cfg)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("failed to validate build config: %w", err)
	}
	errs := make([]error, 0, len(verrs))
	for _, fe := range verrs {
		errs = append(errs, fmt.Errorf("%s: failed %q (value %v)", fe.Namespace(), fe.ActualTag(), fe.Value()))
	}
	return fmt.Errorf("invalid build config: %w", errors.Join(errs...))
}

// ApplyDefaults fills unset fields. When neither variant is requested the
// non-PIC graph is built.
func ApplyDefaults(cfg *ir.BuildConfig) {
	if !cfg.PIC && !cfg.NoPIC {
		cfg.NoPIC = true
	}
}
