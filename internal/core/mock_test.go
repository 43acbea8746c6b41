package core

import (
	"encoding/hex"
	"errors"
	"strings"
	"sync"
)

// MockContextFactory hands out a mock context, or fails like a stopped card service.
type MockContextFactory struct {
	ctx *MockSmartCardContext
	err error
}

func (f *MockContextFactory) EstablishContext() (SmartCardContext, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.ctx.mu.Lock()
	f.ctx.established++
	f.ctx.mu.Unlock()
	return f.ctx, nil
}

// MockSmartCardContext implements SmartCardContext for testing
type MockSmartCardContext struct {
	mu          sync.Mutex
	readers     []string
	cards       map[string]*MockSmartCard
	listErr     error
	established int
	released    int
	connects    int
}

// NewMockContext creates a mock context with one contact reader and no card.
func NewMockContext() *MockSmartCardContext {
	return &MockSmartCardContext{
		readers: []string{"ACS ACR38U-CCID 00 00"},
		cards:   make(map[string]*MockSmartCard),
	}
}

// WithReaders sets the readers for the mock context
func (m *MockSmartCardContext) WithReaders(readers ...string) *MockSmartCardContext {
	m.readers = readers
	return m
}

// WithCard inserts a mock card into a specific reader
func (m *MockSmartCardContext) WithCard(readerName string, card *MockSmartCard) *MockSmartCardContext {
	m.cards[readerName] = card
	return m
}

// WithListError makes reader enumeration fail.
func (m *MockSmartCardContext) WithListError(msg string) *MockSmartCardContext {
	m.listErr = errors.New(msg)
	return m
}

// Factory wraps the context in a factory for NewBridge.
func (m *MockSmartCardContext) Factory() *MockContextFactory {
	return &MockContextFactory{ctx: m}
}

func (m *MockSmartCardContext) ListReaders() ([]string, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.readers, nil
}

func (m *MockSmartCardContext) Connect(reader string, shareMode uint32, protocol uint32) (SmartCard, error) {
	m.mu.Lock()
	m.connects++
	m.mu.Unlock()

	card, ok := m.cards[reader]
	if !ok {
		return nil, errors.New("no smart card inserted")
	}
	if card.connectErr != nil {
		return nil, card.connectErr
	}
	return card, nil
}

func (m *MockSmartCardContext) Release() error {
	m.mu.Lock()
	m.released++
	m.mu.Unlock()
	return nil
}

// MockSmartCard implements SmartCard for testing. Responses are matched on
// the longest hex prefix of the transmitted command.
type MockSmartCard struct {
	mu            sync.Mutex
	atr           []byte
	responses     map[string][]byte
	transmitErrs  map[string]error
	connectErr    error
	disconnectErr error
	sent          [][]byte
	disconnects   int
}

// NewMockCard creates a mock card. "SLE4442" accepts the factory code and
// writes; anything else gets an unknown ATR and no canned responses.
func NewMockCard(cardType string) *MockSmartCard {
	card := &MockSmartCard{
		responses:    make(map[string][]byte),
		transmitErrs: make(map[string]error),
	}

	switch cardType {
	case "SLE4442":
		card.atr, _ = hex.DecodeString("a2131091")
		card.responses["ff20000003ffffff"] = []byte{0x90, 0x00}
		card.responses["ffd00020"] = []byte{0x90, 0x00}
		card.responses["ffb00020"] = append([]byte{PayloadMagic, '1', '2'}, 0x90, 0x00)
		card.responses["ffca000000"] = []byte{0x6A, 0x81}
	default:
		card.atr, _ = hex.DecodeString("3b8f8001804f0ca0000003060300030000000068")
	}

	return card
}

// WithResponse sets the raw response for commands starting with prefixHex.
func (m *MockSmartCard) WithResponse(prefixHex string, rsp ...byte) *MockSmartCard {
	m.responses[strings.ToLower(prefixHex)] = rsp
	return m
}

// WithTransmitError makes commands starting with prefixHex fail at the transport level.
func (m *MockSmartCard) WithTransmitError(prefixHex string, msg string) *MockSmartCard {
	m.transmitErrs[strings.ToLower(prefixHex)] = errors.New(msg)
	return m
}

// WithConnectError makes Connect to this card fail.
func (m *MockSmartCard) WithConnectError(msg string) *MockSmartCard {
	m.connectErr = errors.New(msg)
	return m
}

// WithDisconnectError makes Disconnect fail.
func (m *MockSmartCard) WithDisconnectError(msg string) *MockSmartCard {
	m.disconnectErr = errors.New(msg)
	return m
}

func (m *MockSmartCard) Transmit(cmd []byte) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sent = append(m.sent, append([]byte(nil), cmd...))
	cmdHex := hex.EncodeToString(cmd)

	if err := longestPrefix(m.transmitErrs, cmdHex); err != nil {
		return nil, *err
	}
	if rsp := longestPrefix(m.responses, cmdHex); rsp != nil {
		return append([]byte(nil), (*rsp)...), nil
	}
	return []byte{0x6D, 0x00}, nil
}

func longestPrefix[T any](m map[string]T, s string) *T {
	var best string
	var found *T
	for prefix, v := range m {
		if strings.HasPrefix(s, prefix) && len(prefix) >= len(best) {
			best = prefix
			v := v
			found = &v
		}
	}
	return found
}

func (m *MockSmartCard) Status() (SmartCardStatus, error) {
	return SmartCardStatus{
		Reader:         "mock",
		State:          0x34,
		ActiveProtocol: 1,
		Atr:            m.atr,
	}, nil
}

func (m *MockSmartCard) Disconnect(disposition uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnects++
	return m.disconnectErr
}

// Sent returns every command transmitted so far.
func (m *MockSmartCard) Sent() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]byte(nil), m.sent...)
}

// SentWithPrefix counts transmitted commands starting with the given bytes.
func (m *MockSmartCard) SentWithPrefix(prefix ...byte) int {
	n := 0
	for _, cmd := range m.Sent() {
		if len(cmd) >= len(prefix) && string(cmd[:len(prefix)]) == string(prefix) {
			n++
		}
	}
	return n
}

// Disconnects returns how many times Disconnect was called.
func (m *MockSmartCard) Disconnects() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disconnects
}
