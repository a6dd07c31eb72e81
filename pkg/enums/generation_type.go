package enums

import "fmt"

// GenerationType is the subject category of a requested image.
type GenerationType string

const (
	GenerationTypeCharacter GenerationType = "character"
	GenerationTypeScene     GenerationType = "scene"
	GenerationTypeCreature  GenerationType = "creature"
	GenerationTypeItem      GenerationType = "item"
)

var validGenerationTypes = []GenerationType{
	GenerationTypeCharacter,
	GenerationTypeScene,
	GenerationTypeCreature,
	GenerationTypeItem,
}

func (g GenerationType) IsValid() bool {
	for _, candidate := range validGenerationTypes {
		if candidate == g {
			return true
		}
	}
	return false
}

func ParseGenerationType(value string) (GenerationType, error) {
	for _, candidate := range validGenerationTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid generation type %q", value)
}
