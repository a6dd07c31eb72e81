package enums

import "fmt"

// ArtifactStatus tracks whether an archived artifact still holds its payload.
type ArtifactStatus string

const (
	ArtifactStatusCompleted ArtifactStatus = "completed"
	ArtifactStatusEvicted   ArtifactStatus = "evicted"
)

var validArtifactStatuses = []ArtifactStatus{
	ArtifactStatusCompleted,
	ArtifactStatusEvicted,
}

func (s ArtifactStatus) IsValid() bool {
	for _, candidate := range validArtifactStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

func ParseArtifactStatus(value string) (ArtifactStatus, error) {
	for _, candidate := range validArtifactStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid artifact status %q", value)
}
