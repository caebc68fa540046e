package messaging

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/GabrielABSouza/Kumon-AI-recepcionist-sub003/internal/models"
	"github.com/GabrielABSouza/Kumon-AI-recepcionist-sub003/internal/whatsapp"
)

func TestSendMessageSurvivesFullReceiptBuffer(t *testing.T) {
	svc := NewWhatsAppService(whatsapp.NewMockClient())

	// Nothing drains the receipts channel here, so sends past the buffer
	// capacity must fall back to dropping the receipt instead of blocking.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < DefaultChannelBufferSize+2; i++ {
			if err := svc.SendMessage(context.Background(), "+5545999990000", "oi"); err != nil {
				t.Errorf("send %d failed: %v", i, err)
				return
			}
		}
	}()

	select {
	case <-done:
	case <-time.After(30 * time.Second):
		t.Fatal("sends blocked once the receipts buffer filled")
	}
}

func TestWhatsAppStopUnblocksPendingReceipt(t *testing.T) {
	svc := NewWhatsAppService(whatsapp.NewMockClient())
	for i := 0; i < DefaultChannelBufferSize; i++ {
		svc.receipts <- models.Receipt{To: "5545999990000", Status: models.MessageStatusSent}
	}

	sent := make(chan error, 1)
	go func() {
		sent <- svc.SendMessage(context.Background(), "+5545999990000", "oi")
	}()
	time.Sleep(20 * time.Millisecond)

	start := time.Now()
	if err := svc.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	select {
	case err := <-sent:
		if err != nil {
			t.Fatalf("send after stop signal failed: %v", err)
		}
		if time.Since(start) >= DefaultChannelTimeout {
			t.Error("send waited for the emit timeout instead of aborting on stop")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("send still blocked after stop")
	}

	if err := svc.Stop(); err != nil {
		t.Errorf("second stop should be a no-op, got %v", err)
	}
	if err := svc.SendMessage(context.Background(), "+5545999990000", "oi"); !errors.Is(err, ErrServiceStopped) {
		t.Errorf("send after stop = %v, want ErrServiceStopped", err)
	}
}
