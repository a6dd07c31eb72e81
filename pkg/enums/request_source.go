package enums

// RequestSource tags where a rate-limited attempt originated.
type RequestSource string

const (
	RequestSourceWeb RequestSource = "web"
	RequestSourceAPI RequestSource = "api"
)

func (s RequestSource) IsValid() bool {
	return s == RequestSourceWeb || s == RequestSourceAPI
}
