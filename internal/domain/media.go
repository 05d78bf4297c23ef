package domain

// MediaConstraints selects the local capture devices and their format.
type MediaConstraints struct {
	Audio     bool
	Video     bool
	Width     int
	Height    int
	FrameRate int

	AudioLabel string
	VideoLabel string
}

// OfferOptions are passed through to offer creation.
type OfferOptions struct {
	ICERestart             bool
	VoiceActivityDetection bool
}
