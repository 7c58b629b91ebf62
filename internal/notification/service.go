package notification

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nhsd-wmp/platform/internal/shared/events"
	"github.com/nhsd-wmp/platform/internal/shared/types"
)

// ServiceConfig holds service configuration
type ServiceConfig struct {
	Workers       int
	BufferSize    int
	RetryAttempts int
	RetryDelay    time.Duration
}

// DefaultServiceConfig returns default configuration
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		Workers:       2,
		BufferSize:    500,
		RetryAttempts: 3,
		RetryDelay:    30 * time.Second,
	}
}

// Service queues and dispatches text messages through the configured SMS
// provider with a small worker pool and bounded retries.
type Service struct {
	provider  SMSProvider
	templates StepTemplates

	mu      sync.RWMutex
	pending map[types.ID]*Message
	stats   *Stats

	msgCh   chan *Message
	workers int

	started bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	config ServiceConfig
}

// NewService creates a new text-message service
func NewService(provider SMSProvider, templates StepTemplates, config ServiceConfig) *Service {
	return &Service{
		provider:  provider,
		templates: templates,
		pending:   make(map[types.ID]*Message),
		stats:     &Stats{ByStep: make(map[int]int64)},
		msgCh:     make(chan *Message, config.BufferSize),
		workers:   config.Workers,
		stopCh:    make(chan struct{}),
		config:    config,
	}
}

// Start starts the worker pool
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("service already started")
	}
	s.started = true
	s.mu.Unlock()

	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker(ctx)
	}

	return nil
}

// Stop drains the workers
func (s *Service) Stop() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return fmt.Errorf("service not started")
	}
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()

	return nil
}

// QueueStep composes the message for a contact-pathway step and queues it
// for delivery
func (s *Service) QueueStep(referralID types.ID, step int, eventID string) error {
	body, ok := s.templates.ForStep(step)
	if !ok {
		return fmt.Errorf("no message template for contact step %d", step)
	}

	now := time.Now()
	msg := &Message{
		ID:         types.NewID(),
		ReferralID: referralID,
		Step:       step,
		Body:       body,
		Status:     StatusPending,
		EventID:    eventID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	return s.Queue(msg)
}

// Queue submits a message for asynchronous delivery
func (s *Service) Queue(msg *Message) error {
	if msg.ID.IsZero() {
		msg.ID = types.NewID()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	msg.UpdatedAt = time.Now()
	msg.Status = StatusPending

	s.mu.Lock()
	s.pending[msg.ID] = msg
	s.stats.TotalQueued++
	s.mu.Unlock()

	select {
	case s.msgCh <- msg:
		return nil
	default:
		return fmt.Errorf("message buffer full")
	}
}

func (s *Service) worker(ctx context.Context) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case msg := <-s.msgCh:
			s.deliver(ctx, msg)
		}
	}
}

func (s *Service) deliver(ctx context.Context, msg *Message) {
	err := s.provider.Send(ctx, msg)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		msg.ErrorMessage = err.Error()
		msg.RetryCount++
		now := time.Now()
		msg.LastRetryAt = &now

		if msg.RetryCount >= s.config.RetryAttempts {
			msg.Status = StatusFailed
			s.stats.TotalFailed++
			log.Printf("text message %s for referral %s failed after %d attempts: %v",
				msg.ID, msg.ReferralID, msg.RetryCount, err)
		} else {
			go func() {
				time.Sleep(s.config.RetryDelay)
				select {
				case s.msgCh <- msg:
				default:
				}
			}()
		}
	} else {
		now := time.Now()
		msg.SentAt = &now
		msg.Status = StatusSent
		s.stats.TotalSent++
		s.stats.ByStep[msg.Step]++
	}

	if s.stats.TotalQueued > 0 {
		s.stats.DeliveryRate = float64(s.stats.TotalSent) / float64(s.stats.TotalQueued)
	}
	msg.UpdatedAt = time.Now()
}

// GetMessage returns a queued message by ID
func (s *Service) GetMessage(id types.ID) (*Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.pending[id]
	return m, ok
}

// GetStats returns delivery statistics
func (s *Service) GetStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := *s.stats
	stats.ByStep = make(map[int]int64, len(s.stats.ByStep))
	for k, v := range s.stats.ByStep {
		stats.ByStep[k] = v
	}
	return stats
}

// stepForStatus maps a referral status to a contact-pathway step
func stepForStatus(status string) (int, bool) {
	switch status {
	case "TextMessage1":
		return 1, true
	case "TextMessage2":
		return 2, true
	case "TextMessage3":
		return 3, true
	default:
		return 0, false
	}
}

// Subscriber queues a text message whenever a referral moves to one of
// the text-message statuses
type Subscriber struct {
	service *Service
	bus     events.EventBus
}

// NewSubscriber creates a subscriber on the referral status stream
func NewSubscriber(service *Service, bus events.EventBus) *Subscriber {
	return &Subscriber{service: service, bus: bus}
}

// Start subscribes to referral status changes
func (s *Subscriber) Start(ctx context.Context) error {
	return s.bus.Subscribe(ctx, "referral.*", "notification-sms-subscriber", s.handle)
}

func (s *Subscriber) handle(ctx context.Context, event events.Event) error {
	if event.Type != "referral.status_changed" {
		return nil
	}

	data, ok := event.Data.(map[string]any)
	if !ok {
		return nil
	}

	status, _ := data["status"].(string)
	step, ok := stepForStatus(status)
	if !ok {
		return nil
	}

	rawID, _ := data["referral_id"].(string)
	referralID, err := types.ParseID(rawID)
	if err != nil {
		log.Printf("text message subscriber: event %s carries no referral id", event.ID)
		return nil
	}

	if err := s.service.QueueStep(referralID, step, event.ID); err != nil {
		log.Printf("queue text message for referral %s step %d: %v", referralID, step, err)
	}
	return nil
}
