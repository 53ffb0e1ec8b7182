package capture

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"plantdoctor/internal/logging"
	"plantdoctor/internal/models"
)

const (
	defaultProbeCount = 4
	defaultProbeDelay = 100 * time.Millisecond
)

type SourceOption func(*Source)

func WithProbeCount(n int) SourceOption {
	return func(s *Source) { s.probeCount = n }
}

func WithProbeDelay(d time.Duration) SourceOption {
	return func(s *Source) { s.probeDelay = d }
}

func WithLogger(l *zap.Logger) SourceOption {
	return func(s *Source) { s.logger = l }
}

// Source owns at most one open camera handle and hands out frames from it.
// It is not safe for concurrent use; the coordinator loop is its only caller.
type Source struct {
	opener     Opener
	probeCount int
	probeDelay time.Duration
	logger     *zap.Logger
	now        func() time.Time
	sleep      func(time.Duration)

	dev    Device
	id     int
	active bool
}

func NewSource(opener Opener, opts ...SourceOption) *Source {
	s := &Source{
		opener:     opener,
		probeCount: defaultProbeCount,
		probeDelay: defaultProbeDelay,
		now:        time.Now,
		sleep:      time.Sleep,
	}

	for _, opt := range opts {
		opt(s)
	}

	s.logger = logging.OrNop(s.logger).Named("capture")

	return s
}

// ListDevices probes indices 0..probeCount-1 and returns those that open.
// Each probe handle is closed right away. The device currently held by the
// source is reported without reopening it.
func (s *Source) ListDevices() []int {
	var ids []int

	for i := 0; i < s.probeCount; i++ {
		if s.dev != nil && s.id == i {
			ids = append(ids, i)
			continue
		}

		dev, err := s.opener.Open(i)
		if err != nil {
			s.logger.Debug("camera probe failed", zap.Int("device", i), zap.Error(err))
		} else {
			ids = append(ids, i)
			if cerr := dev.Close(); cerr != nil {
				s.logger.Debug("closing probe handle", zap.Int("device", i), zap.Error(cerr))
			}
		}

		if s.probeDelay > 0 && i+1 < s.probeCount {
			s.sleep(s.probeDelay)
		}
	}

	s.logger.Info("camera probe finished", zap.Ints("devices", ids))

	return ids
}

// Open releases any held handle before opening id.
func (s *Source) Open(id int) error {
	if err := s.Release(); err != nil {
		s.logger.Warn("releasing previous camera", zap.Int("device", s.id), zap.Error(err))
	}

	dev, err := s.opener.Open(id)
	if err != nil {
		return fmt.Errorf("%w: camera %d: %v", ErrDeviceUnavailable, id, err)
	}

	s.dev = dev
	s.id = id
	s.active = true

	s.logger.Info("camera opened", zap.Int("device", id))

	return nil
}

// Switch moves to another device. The old handle is always closed first, so
// two handles are never open together.
func (s *Source) Switch(id int) error {
	return s.Open(id)
}

// ReadFrame pulls one frame. A failed read drops the handle and leaves the
// source inactive; it is up to the caller to open a device again.
func (s *Source) ReadFrame() (models.Frame, error) {
	if !s.active || s.dev == nil {
		return models.Frame{}, ErrNoDevice
	}

	img, err := s.dev.Read()
	if err == nil && img == nil {
		err = errors.New("empty frame")
	}
	if err != nil {
		id := s.id
		s.logger.Warn("camera read failed", zap.Int("device", id), zap.Error(err))
		if rerr := s.Release(); rerr != nil {
			s.logger.Debug("releasing failed camera", zap.Int("device", id), zap.Error(rerr))
		}
		return models.Frame{}, fmt.Errorf("%w: camera %d: %v", ErrDeviceDisconnected, id, err)
	}

	return models.NewFrame(img, fmt.Sprintf("camera-%d", s.id), s.now()), nil
}

// Release closes the held handle. Safe to call any number of times.
func (s *Source) Release() error {
	s.active = false

	if s.dev == nil {
		return nil
	}

	dev := s.dev
	s.dev = nil

	if err := dev.Close(); err != nil {
		return fmt.Errorf("close camera %d: %w", s.id, err)
	}

	s.logger.Debug("camera released", zap.Int("device", s.id))

	return nil
}

// Active reports the open device id.
func (s *Source) Active() (int, bool) {
	return s.id, s.active
}
