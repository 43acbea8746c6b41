package core

import (
	"encoding/hex"
	"sync"

	"github.com/SimplyPrint/card-bridge/internal/logging"
	"github.com/google/uuid"
)

const (
	StatusOnline = "online"
	StatusError  = "error"
)

// Status is the result of a reader presence check.
type Status struct {
	Status  string  `json:"status"`
	Reader  *string `json:"reader"`
	Ready   bool    `json:"ready"`
	Message string  `json:"message,omitempty"`
}

// Online reports whether the card service answered.
func (s Status) Online() bool { return s.Status == StatusOnline }

// ReaderName returns the first reader's name, or "" when there is none.
func (s Status) ReaderName() string {
	if s.Reader == nil {
		return ""
	}
	return *s.Reader
}

// WriteRequest is the card content supplied by the front end. Fields are
// raw user input of any length; they are cleaned before use.
type WriteRequest struct {
	CardNumber string `json:"cardNumber"`
	HolderName string `json:"holderName"`
	ExpiryDate string `json:"expiryDate"`
}

// TransactionResult is the outcome reported to the front end.
// Error is only set when Success is false.
type TransactionResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// ResultOf converts an operation error into a TransactionResult.
func ResultOf(err error) TransactionResult {
	if err != nil {
		return TransactionResult{Success: false, Error: err.Error()}
	}
	return TransactionResult{Success: true}
}

// Diagnosis describes the reader and card without writing anything.
type Diagnosis struct {
	Reader       string `json:"reader"`
	ReaderType   string `json:"readerType"`
	ATR          string `json:"atr"`
	CardType     string `json:"cardType"`
	Compatible   bool   `json:"compatible"`
	ProbeStatus  string `json:"probeStatus"`
	ProbeMeaning string `json:"probeMeaning"`
	UID          string `json:"uid,omitempty"`
}

// Bridge drives the first PC/SC reader. The reader is a singleton exclusive
// resource: every operation that opens a card session holds mu for its whole
// duration. Nothing is cached; each call enumerates readers from scratch.
type Bridge struct {
	factory ContextFactory
	mu      sync.Mutex
}

// NewBridge creates a bridge. A nil factory means real PC/SC.
func NewBridge(factory ContextFactory) *Bridge {
	if factory == nil {
		factory = DefaultContextFactory{}
	}
	return &Bridge{factory: factory}
}

func (b *Bridge) establish() (SmartCardContext, error) {
	ctx, err := b.factory.EstablishContext()
	if err != nil {
		logging.Error(logging.CatReader, "Failed to establish PC/SC context - is the smart card service running?", map[string]any{
			"error": err.Error(),
			"hint":  "On Linux, ensure pcscd is installed and running: sudo systemctl status pcscd",
		})
		return nil, &Error{
			Kind: KindDiscovery,
			Op:   "establish context",
			Msg:  "smart card service unavailable",
			Err:  err,
		}
	}
	return ctx, nil
}

// ListReaders enumerates every PC/SC reader. An empty result is not an error;
// a KindDiscovery error means the card service itself could not be reached.
func (b *Bridge) ListReaders() ([]Reader, error) {
	ctx, err := b.establish()
	if err != nil {
		return nil, err
	}
	defer ctx.Release()

	return listReaders(ctx)
}

// ProbeStatus is the polling health check. It never returns an error:
// discovery failures are reported in the status itself.
func (b *Bridge) ProbeStatus() Status {
	readers, err := b.ListReaders()
	if err != nil {
		return Status{
			Status:  StatusError,
			Message: err.Error(),
		}
	}

	st := Status{Status: StatusOnline, Ready: len(readers) > 0}
	if st.Ready {
		name := readers[0].Name
		st.Reader = &name
	}
	return st
}

// withSession opens a session with the card in the first reader, runs fn
// and always disconnects afterwards.
func (b *Bridge) withSession(fn func(reader Reader, conn *Connection) error) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	ctx, err := b.establish()
	if err != nil {
		return err
	}
	defer ctx.Release()

	readers, err := listReaders(ctx)
	if err != nil {
		return err
	}
	if len(readers) == 0 {
		return &Error{Kind: KindDiscovery, Op: "list readers", Err: ErrNoReader}
	}

	reader := readers[0]
	conn, err := Connect(ctx, reader.Name)
	if err != nil {
		return err
	}
	defer conn.Disconnect()

	logging.Debug(logging.CatCard, "Card connected", map[string]any{
		"reader":   reader.Name,
		"atr":      formatATR(conn.ATR()),
		"cardType": CardTypeFromATR(conn.ATR()),
	})

	return fn(reader, conn)
}

// WriteCard verifies the factory security code and writes the encoded
// payload to main memory. Each command is sent exactly once; the write is
// never attempted when verification fails.
func (b *Bridge) WriteCard(req WriteRequest) error {
	txID := uuid.NewString()
	logging.Info(logging.CatCard, "Card write requested", map[string]any{
		"tx": txID,
	})

	err := b.withSession(func(reader Reader, conn *Connection) error {
		if t := CardTypeFromATR(conn.ATR()); t != CardTypeSLE4442 {
			logging.Warn(logging.CatCard, "Card ATR does not look like an SLE4442, trying anyway", map[string]any{
				"tx":  txID,
				"atr": formatATR(conn.ATR()),
			})
		}
		return writeTransaction(conn, req, txID)
	})

	if err != nil {
		logging.Error(logging.CatCard, "Card write failed", map[string]any{
			"tx":    txID,
			"kind":  KindOf(err).String(),
			"error": err.Error(),
		})
		if KindOf(err) == KindTransport {
			logging.CaptureError(err, "card write", map[string]interface{}{"tx": txID})
		}
		return err
	}

	logging.Info(logging.CatCard, "Card written", map[string]any{
		"tx": txID,
	})
	return nil
}

func writeTransaction(conn *Connection, req WriteRequest, txID string) error {
	resp, err := conn.Transmit(VerifyPSCCommand())
	if err != nil {
		return err
	}
	if !resp.Status.IsSuccess() {
		logging.Warn(logging.CatCard, "Security code rejected", map[string]any{
			"tx":      txID,
			"status":  resp.Status.String(),
			"meaning": resp.Status.Meaning(),
		})
		return protocolError("verify", resp.Status,
			"security code verification failed with status %s: card may be locked or is not an SLE4442-compatible memory card",
			resp.Status)
	}

	payload := EncodePayload(req.CardNumber, req.HolderName, req.ExpiryDate)
	cmd, err := UpdateBinaryCommand(MainMemoryAddress, payload)
	if err != nil {
		return &Error{Kind: KindProtocol, Op: "write", Msg: "cannot build write command", Err: err}
	}

	logging.Debug(logging.CatCard, "Writing payload", map[string]any{
		"tx":      txID,
		"address": MainMemoryAddress,
		"bytes":   len(payload),
	})

	resp, err = conn.Transmit(cmd)
	if err != nil {
		return err
	}
	if !resp.Status.IsSuccess() {
		logging.Warn(logging.CatCard, "Write rejected", map[string]any{
			"tx":      txID,
			"status":  resp.Status.String(),
			"meaning": resp.Status.Meaning(),
		})
		return protocolError("write", resp.Status, "write error: card returned status %s", resp.Status)
	}
	return nil
}

// Diagnose connects to the first reader, identifies the card from its ATR
// and sends the harmless GET DATA probe. It never writes.
func (b *Bridge) Diagnose() (*Diagnosis, error) {
	var d *Diagnosis
	err := b.withSession(func(reader Reader, conn *Connection) error {
		atr := conn.ATR()
		d = &Diagnosis{
			Reader:     reader.Name,
			ReaderType: reader.Type,
			ATR:        formatATR(atr),
			CardType:   CardTypeFromATR(atr),
		}
		d.Compatible = d.CardType == CardTypeSLE4442

		resp, err := conn.Transmit(getDataCommand)
		if err != nil {
			return &Error{
				Kind: KindTransport,
				Op:   "probe",
				Msg:  "reader rejected the GET DATA probe; it may not support standard PC/SC commands",
				Err:  err,
			}
		}
		d.ProbeStatus = resp.Status.String()
		d.ProbeMeaning = resp.Status.Meaning()
		if resp.Status.IsSuccess() && len(resp.Data) > 0 {
			d.UID = hex.EncodeToString(resp.Data)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logging.Info(logging.CatCard, "Diagnosis complete", map[string]any{
		"reader":      d.Reader,
		"atr":         d.ATR,
		"cardType":    d.CardType,
		"probeStatus": d.ProbeStatus,
	})
	return d, nil
}

// ReadMemory reads length bytes of main memory starting at address.
// Reads need no security code on SLE4442 cards.
func (b *Bridge) ReadMemory(address, length int) ([]byte, error) {
	cmd, err := ReadBinaryCommand(address, length)
	if err != nil {
		return nil, &Error{Kind: KindProtocol, Op: "read", Msg: "invalid memory range", Err: err}
	}

	var data []byte
	err = b.withSession(func(reader Reader, conn *Connection) error {
		resp, err := conn.Transmit(cmd)
		if err != nil {
			return err
		}
		if !resp.Status.IsSuccess() {
			return protocolError("read", resp.Status, "read error: card returned status %s", resp.Status)
		}
		data = resp.Data
		return nil
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

var _ CardBridge = (*Bridge)(nil)
