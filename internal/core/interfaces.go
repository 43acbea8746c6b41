package core

// SmartCardContext represents a PC/SC context for listing readers
type SmartCardContext interface {
	ListReaders() ([]string, error)
	Connect(reader string, shareMode uint32, protocol uint32) (SmartCard, error)
	Release() error
}

// SmartCard represents a connected smart card for transmitting commands
type SmartCard interface {
	Transmit(cmd []byte) ([]byte, error)
	Status() (SmartCardStatus, error)
	Disconnect(disposition uint32) error
}

// SmartCardStatus represents the status of a smart card
type SmartCardStatus struct {
	Reader         string
	State          uint32
	ActiveProtocol uint32
	Atr            []byte
}

// ContextFactory creates SmartCardContext instances.
// Every bridge operation asks for a fresh context so hot-plugged readers are seen.
type ContextFactory interface {
	EstablishContext() (SmartCardContext, error)
}

// DefaultContextFactory is the production factory that uses real PC/SC
type DefaultContextFactory struct{}

// CardBridge is the set of operations the HTTP and websocket layers call.
type CardBridge interface {
	ListReaders() ([]Reader, error)
	ProbeStatus() Status
	WriteCard(req WriteRequest) error
	Diagnose() (*Diagnosis, error)
	ReadMemory(address, length int) ([]byte, error)
}
