package enums

import "fmt"

// ImageQuality selects the generation tier and its brushstroke tariff.
type ImageQuality string

const (
	ImageQualityLow    ImageQuality = "low"
	ImageQualityMedium ImageQuality = "medium"
	ImageQualityHigh   ImageQuality = "high"
)

var validImageQualities = []ImageQuality{
	ImageQualityLow,
	ImageQualityMedium,
	ImageQualityHigh,
}

func (q ImageQuality) IsValid() bool {
	for _, candidate := range validImageQualities {
		if candidate == q {
			return true
		}
	}
	return false
}

func ParseImageQuality(value string) (ImageQuality, error) {
	for _, candidate := range validImageQualities {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid image quality %q", value)
}
