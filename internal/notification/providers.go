package notification

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nhsd-wmp/platform/internal/shared/types"
)

// SMSProvider is implemented by SMS gateways
type SMSProvider interface {
	Send(ctx context.Context, message *Message) error
	GetDeliveryStatus(ctx context.Context, messageID types.ID) (*DeliveryReceipt, error)
}

// MockSMSProvider is a mock SMS provider for testing
type MockSMSProvider struct {
	mu         sync.RWMutex
	sent       map[types.ID]*Message
	failOnSend bool
	sendDelay  time.Duration
}

// NewMockSMSProvider creates a new mock SMS provider
func NewMockSMSProvider() *MockSMSProvider {
	return &MockSMSProvider{
		sent: make(map[types.ID]*Message),
	}
}

// Send records the message without delivering anything
func (p *MockSMSProvider) Send(ctx context.Context, message *Message) error {
	if p.sendDelay > 0 {
		time.Sleep(p.sendDelay)
	}

	if p.failOnSend {
		return fmt.Errorf("mock send failure")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.sent[message.ID] = message
	return nil
}

// GetDeliveryStatus returns delivery status (mock)
func (p *MockSMSProvider) GetDeliveryStatus(ctx context.Context, messageID types.ID) (*DeliveryReceipt, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if _, ok := p.sent[messageID]; ok {
		return &DeliveryReceipt{
			MessageID: messageID,
			Status:    StatusSent,
			Timestamp: time.Now(),
			Provider:  "mock_sms",
		}, nil
	}

	return nil, fmt.Errorf("message not found")
}

// SetFailOnSend sets whether Send should fail
func (p *MockSMSProvider) SetFailOnSend(fail bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failOnSend = fail
}

// SetSendDelay sets artificial delay for Send
func (p *MockSMSProvider) SetSendDelay(delay time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sendDelay = delay
}

// SentMessages returns all messages the provider accepted
func (p *MockSMSProvider) SentMessages() []*Message {
	p.mu.RLock()
	defer p.mu.RUnlock()

	result := make([]*Message, 0, len(p.sent))
	for _, m := range p.sent {
		result = append(result, m)
	}
	return result
}

// ConsoleProvider logs messages to the console instead of sending them,
// for development environments without an SMS gateway
type ConsoleProvider struct {
	prefix string
}

// NewConsoleProvider creates a console logging provider
func NewConsoleProvider(prefix string) *ConsoleProvider {
	return &ConsoleProvider{prefix: prefix}
}

// Send logs the message to the console
func (p *ConsoleProvider) Send(ctx context.Context, message *Message) error {
	fmt.Printf("\n[%s TEXT MESSAGE]\n", p.prefix)
	fmt.Printf("  ID:       %s\n", message.ID)
	fmt.Printf("  Referral: %s\n", message.ReferralID)
	fmt.Printf("  Step:     %d\n", message.Step)
	fmt.Printf("  Body:\n%s\n", message.Body)
	if message.EventID != "" {
		fmt.Printf("  Event:    %s\n", message.EventID)
	}
	fmt.Println()
	return nil
}

// GetDeliveryStatus returns delivery status
func (p *ConsoleProvider) GetDeliveryStatus(ctx context.Context, messageID types.ID) (*DeliveryReceipt, error) {
	return &DeliveryReceipt{
		MessageID: messageID,
		Status:    StatusSent,
		Timestamp: time.Now(),
		Provider:  "console",
	}, nil
}
