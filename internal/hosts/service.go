package hosts

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/tender/internal/auth"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrInvalidEmail indicates the address is empty or malformed.
	ErrInvalidEmail = errors.New("hosts: invalid email")
	// ErrEmailTaken indicates another account already uses the address.
	ErrEmailTaken = errors.New("hosts: email already registered")
	// ErrInvalidCredentials indicates an unknown address or a wrong password.
	ErrInvalidCredentials = errors.New("hosts: invalid credentials")
	// ErrHostNotFound indicates no account exists for the identifier.
	ErrHostNotFound = errors.New("hosts: host not found")
)

// IDProvider issues host identifiers.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig describes the dependencies required for host account management.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Service registers and authenticates host accounts.
type Service struct {
	db         *gorm.DB
	now        func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
	cache      sync.Map
}

// NewService constructs the host account service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("hosts: database connection required")
	}
	if cfg.IDProvider == nil {
		return nil, fmt.Errorf("hosts: id provider required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		db:         cfg.Database,
		now:        clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// Register creates an account for email with a bcrypt-hashed password.
func (s *Service) Register(ctx context.Context, email, password string) (Host, error) {
	normalized := normalizeEmail(email)
	if !validEmail(normalized) {
		return Host{}, ErrInvalidEmail
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return Host{}, err
	}
	hostID, err := s.idProvider.NewID()
	if err != nil {
		return Host{}, err
	}

	host := Host{
		HostID:       hostID,
		Email:        normalized,
		PasswordHash: hash,
		CreatedAt:    s.now().UTC(),
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing int64
		if err := tx.Model(&Host{}).Where("email = ?", normalized).Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return ErrEmailTaken
		}
		return tx.Create(&host).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		err = ErrEmailTaken
	}
	if err != nil {
		if !errors.Is(err, ErrEmailTaken) {
			s.logger.Error("host registration failed", zap.String("email", normalized), zap.Error(err))
		}
		return Host{}, err
	}

	s.logger.Info("host registered", zap.String("host_id", host.HostID))
	s.cache.Store(host.HostID, host)
	return host, nil
}

// Authenticate verifies the password for email and records the login time.
func (s *Service) Authenticate(ctx context.Context, email, password string) (Host, error) {
	normalized := normalizeEmail(email)
	var host Host
	err := s.db.WithContext(ctx).Where("email = ?", normalized).Take(&host).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Host{}, ErrInvalidCredentials
	}
	if err != nil {
		return Host{}, err
	}
	if err := auth.ComparePassword(host.PasswordHash, password); err != nil {
		if errors.Is(err, auth.ErrPasswordMismatch) {
			return Host{}, ErrInvalidCredentials
		}
		return Host{}, err
	}

	loginAt := s.now().UTC()
	host.LastLoginAt = &loginAt
	if err := s.db.WithContext(ctx).Model(&Host{}).
		Where("host_id = ?", host.HostID).
		Update("last_login_at", loginAt).Error; err != nil {
		s.logger.Warn("host login time update failed", zap.String("host_id", host.HostID), zap.Error(err))
	}
	s.cache.Store(host.HostID, host)
	return host, nil
}

// Get returns the account for hostID.
func (s *Service) Get(ctx context.Context, hostID string) (Host, error) {
	if cached, ok := s.cache.Load(hostID); ok {
		if host, ok := cached.(Host); ok {
			return host, nil
		}
	}
	var host Host
	err := s.db.WithContext(ctx).Where("host_id = ?", hostID).Take(&host).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Host{}, ErrHostNotFound
	}
	if err != nil {
		return Host{}, err
	}
	s.cache.Store(host.HostID, host)
	return host, nil
}

// UpdateEmail moves hostID to a new address. Keeping the current address is a no-op.
func (s *Service) UpdateEmail(ctx context.Context, hostID, email string) (Host, error) {
	normalized := normalizeEmail(email)
	if !validEmail(normalized) {
		return Host{}, ErrInvalidEmail
	}

	var host Host
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("host_id = ?", hostID).Take(&host).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrHostNotFound
			}
			return err
		}
		if host.Email == normalized {
			return nil
		}
		var existing int64
		if err := tx.Model(&Host{}).
			Where("email = ? AND host_id <> ?", normalized, hostID).
			Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return ErrEmailTaken
		}
		if err := tx.Model(&Host{}).Where("host_id = ?", hostID).Update("email", normalized).Error; err != nil {
			return err
		}
		host.Email = normalized
		return nil
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		err = ErrEmailTaken
	}
	if err != nil {
		if !errors.Is(err, ErrEmailTaken) && !errors.Is(err, ErrHostNotFound) {
			s.logger.Error("host email update failed", zap.String("host_id", hostID), zap.Error(err))
		}
		return Host{}, err
	}

	s.logger.Info("host email updated", zap.String("host_id", host.HostID))
	s.cache.Store(host.HostID, host)
	return host, nil
}

// EnsureHost registers email unless an account already exists; created reports which happened.
func (s *Service) EnsureHost(ctx context.Context, email, password string) (Host, bool, error) {
	host, err := s.Register(ctx, email, password)
	if err == nil {
		return host, true, nil
	}
	if !errors.Is(err, ErrEmailTaken) {
		return Host{}, false, err
	}
	var existing Host
	if err := s.db.WithContext(ctx).Where("email = ?", normalizeEmail(email)).Take(&existing).Error; err != nil {
		return Host{}, false, err
	}
	return existing, false, nil
}
