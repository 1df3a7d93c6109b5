package comic

// Strip is one normalized comic installment. It is a pure value and is never mutated
// after construction.
type Strip struct {
	Endpoint   string `json:"endpoint"`
	Title      string `json:"title"`
	Identifier string `json:"date"`
	ImageURL   string `json:"imageUrl"`
	SourceURL  string `json:"sourceUrl"`
	// Prev and Next are empty when no neighbour exists.
	Prev string `json:"prevDate,omitempty"`
	Next string `json:"nextDate,omitempty"`
}

// Image is a proxied image payload.
type Image struct {
	Body        []byte
	ContentType string
}
