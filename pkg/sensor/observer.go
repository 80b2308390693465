package sensor

// Observer receives data-quality events from the channel readers.
type Observer interface {
	ParseError(channel string)
	DecodeFallback(parameter string)
}

// NopObserver discards all events.
type NopObserver struct{}

func (NopObserver) ParseError(string)     {}
func (NopObserver) DecodeFallback(string) {}
