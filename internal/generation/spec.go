package generation

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/angelmondragon/quickbrush-backend/pkg/config"
	"github.com/angelmondragon/quickbrush-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/quickbrush-backend/pkg/errors"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		tag := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if tag == "" {
			return f.Name
		}
		return tag
	})
	return v
}

// Spec is one image request.
type Spec struct {
	Type        enums.GenerationType `json:"type" validate:"required,oneof=character scene creature item"`
	Description string               `json:"description" validate:"required,max=2000"`
	Quality     enums.ImageQuality   `json:"quality" validate:"required,oneof=low medium high"`
	AspectRatio enums.AspectRatio    `json:"aspect_ratio" validate:"required,oneof=square landscape portrait"`
	Context     string               `json:"context,omitempty" validate:"max=4000"`
}

// Normalize trims free-text fields and defaults the aspect ratio.
func (s Spec) Normalize() Spec {
	s.Description = strings.TrimSpace(s.Description)
	s.Context = strings.TrimSpace(s.Context)
	if s.AspectRatio == "" {
		s.AspectRatio = enums.AspectRatioSquare
	}
	return s
}

// Validate returns a CodeValidation error listing each offending field.
func (s Spec) Validate() error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	errs, ok := err.(validator.ValidationErrors)
	if !ok {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid generation request")
	}
	details := make(map[string]string, len(errs))
	for _, fe := range errs {
		switch fe.Tag() {
		case "required":
			details[fe.Field()] = "is required"
		case "oneof":
			details[fe.Field()] = fmt.Sprintf("must be one of: %s", fe.Param())
		case "max":
			details[fe.Field()] = fmt.Sprintf("must be at most %s characters", fe.Param())
		default:
			details[fe.Field()] = "is invalid"
		}
	}
	return pkgerrors.New(pkgerrors.CodeValidation, "invalid generation request").WithDetails(details)
}

// Tariff is the fixed brushstroke cost per quality.
type Tariff map[enums.ImageQuality]int

// DefaultTariff charges 1, 3 and 5 brushstrokes for low, medium and high.
func DefaultTariff() Tariff {
	return Tariff{
		enums.ImageQualityLow:    1,
		enums.ImageQualityMedium: 3,
		enums.ImageQualityHigh:   5,
	}
}

// TariffFromConfig overrides the defaults with any positive configured cost.
func TariffFromConfig(cfg config.GenerationConfig) Tariff {
	t := DefaultTariff()
	for quality, cost := range map[enums.ImageQuality]int{
		enums.ImageQualityLow:    cfg.CostLow,
		enums.ImageQualityMedium: cfg.CostMedium,
		enums.ImageQualityHigh:   cfg.CostHigh,
	} {
		if cost > 0 {
			t[quality] = cost
		}
	}
	return t
}

// Cost returns the brushstroke price of quality.
func (t Tariff) Cost(quality enums.ImageQuality) (int, bool) {
	cost, ok := t[quality]
	return cost, ok && cost > 0
}
