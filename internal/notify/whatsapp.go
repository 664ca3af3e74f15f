package notify

import (
	"context"
	"fmt"
	"time"

	// The whatsmeow sqlstore opens its Postgres store through the stock
	// "postgres" driver, which nothing else in this module registers.
	_ "github.com/lib/pq"
	"go.mau.fi/whatsmeow"
	waProto "go.mau.fi/whatsmeow/binary/proto"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"
)

// WhatsAppNotifier sends messages through a linked WhatsApp account. First
// run prints a QR code to pair the device; the session persists in the
// sqlstore afterwards.
type WhatsAppNotifier struct {
	client *whatsmeow.Client
}

// NewWhatsAppNotifier connects a client backed by the given Postgres DSN.
func NewWhatsAppNotifier(ctx context.Context, dsn string) (*WhatsAppNotifier, error) {
	dbLog := waLog.Stdout("Database", "INFO", true)
	container, err := sqlstore.New(ctx, "postgres", dsn, dbLog)
	if err != nil {
		return nil, fmt.Errorf("whatsapp store: %w", err)
	}

	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("whatsapp device store: %w", err)
	}

	client := whatsmeow.NewClient(deviceStore, waLog.Stdout("Client", "INFO", true))

	connected := make(chan bool, 1)
	client.AddEventHandler(func(evt interface{}) {
		if _, ok := evt.(*events.Connected); ok {
			connected <- true
		}
	})

	if client.Store.ID == nil {
		qrChan, _ := client.GetQRChannel(ctx)
		if err := client.Connect(); err != nil {
			return nil, fmt.Errorf("whatsapp connect: %w", err)
		}
		go func() {
			for evt := range qrChan {
				if evt.Event == "code" {
					fmt.Println("WhatsApp pairing QR code:", evt.Code)
				}
			}
		}()
	} else {
		if err := client.Connect(); err != nil {
			return nil, fmt.Errorf("whatsapp connect: %w", err)
		}
	}

	select {
	case <-connected:
	case <-time.After(60 * time.Second):
		return nil, fmt.Errorf("whatsapp connection timeout")
	}

	return &WhatsAppNotifier{client: client}, nil
}

// SendMessage delivers a text message to the phone number.
func (w *WhatsAppNotifier) SendMessage(ctx context.Context, phoneNumber, message string) error {
	jid := types.NewJID(phoneNumber, types.DefaultUserServer)
	waMsg := &waProto.Message{Conversation: proto.String(message)}
	if _, err := w.client.SendMessage(ctx, jid, waMsg); err != nil {
		return fmt.Errorf("whatsapp send to %s: %w", phoneNumber, err)
	}
	return nil
}

// Disconnect closes the connection.
func (w *WhatsAppNotifier) Disconnect() {
	w.client.Disconnect()
}

// IsConnected reports connection status.
func (w *WhatsAppNotifier) IsConnected() bool {
	return w.client.IsConnected()
}
