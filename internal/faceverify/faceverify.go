package faceverify

// Quality is the oracle's judgement of the live photo.
type Quality string

const (
	QualityGood Quality = "GOOD"
	QualityPoor Quality = "POOR"
)

// Image is an encoded photo handed to the oracle.
type Image struct {
	Data []byte
	MIME string
}

// Outcome is the oracle's answer for one reference/live pair. Reason carries
// "OK" on a match, "Faces do not match" on a mismatch, or a quality
// explanation when the live photo is unusable.
type Outcome struct {
	Match   bool    `json:"isMatch"`
	Quality Quality `json:"quality"`
	Reason  string  `json:"reason"`
}

// Usable reports whether the live photo quality allows a verdict.
func (o Outcome) Usable() bool { return o.Quality != QualityPoor }
