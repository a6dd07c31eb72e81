package enums

import "fmt"

type AspectRatio string

const (
	AspectRatioSquare    AspectRatio = "square"
	AspectRatioLandscape AspectRatio = "landscape"
	AspectRatioPortrait  AspectRatio = "portrait"
)

var aspectRatioSizes = map[AspectRatio]string{
	AspectRatioSquare:    "1024x1024",
	AspectRatioLandscape: "1536x1024",
	AspectRatioPortrait:  "1024x1536",
}

func (a AspectRatio) IsValid() bool {
	_, ok := aspectRatioSizes[a]
	return ok
}

// Size returns the pixel dimensions requested from the generator.
func (a AspectRatio) Size() string {
	if size, ok := aspectRatioSizes[a]; ok {
		return size
	}
	return aspectRatioSizes[AspectRatioSquare]
}

func ParseAspectRatio(value string) (AspectRatio, error) {
	candidate := AspectRatio(value)
	if candidate.IsValid() {
		return candidate, nil
	}
	return "", fmt.Errorf("invalid aspect ratio %q", value)
}
