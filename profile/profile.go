// Package profile edits the buyer details checkout depends on: contact
// name and phone, the profile address and the saved delivery address.
package profile

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"storefront-service/database"
	"storefront-service/models"
)

var ErrInvalidProfile = errors.New("invalid profile")

var (
	mobilePattern  = regexp.MustCompile(`^[6-9]\d{9}$`)
	pincodePattern = regexp.MustCompile(`^\d{6}$`)
)

// FieldError names the first field that failed validation.
type FieldError struct {
	Field   string
	Message string
}

func (e *FieldError) Error() string { return e.Message }

func (e *FieldError) Unwrap() error { return ErrInvalidProfile }

type Store interface {
	GetUserProfile(ctx context.Context, userID string) (*models.UserProfile, error)
	GetUserAddress(ctx context.Context, userID string) (*models.UserAddress, error)
	UpdateUserProfile(ctx context.Context, p *models.UserProfile) error
	SaveUserAddress(ctx context.Context, a *models.UserAddress) error
}

type Update struct {
	Name    string
	Phone   string
	Address string
	Pincode string
}

type Service struct {
	store  Store
	logger *zap.Logger
}

func NewService(store Store, logger *zap.Logger) *Service {
	return &Service{store: store, logger: logger.Named("profile")}
}

// Get returns the profile and the saved address; either may be nil.
func (s *Service) Get(ctx context.Context, userID string) (*models.UserProfile, *models.UserAddress, error) {
	p, err := s.store.GetUserProfile(ctx, userID)
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		return nil, nil, err
	}
	a, err := s.store.GetUserAddress(ctx, userID)
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		return nil, nil, err
	}
	return p, a, nil
}

// Update validates and stores the contact details. Fields are checked in
// the order name, phone, address, pincode and the first failure is returned.
func (s *Service) Update(ctx context.Context, userID string, u Update) (*models.UserProfile, error) {
	p := &models.UserProfile{
		ID:      userID,
		Name:    strings.TrimSpace(u.Name),
		Phone:   strings.TrimSpace(u.Phone),
		Address: strings.TrimSpace(u.Address),
		Pincode: strings.TrimSpace(u.Pincode),
	}
	switch {
	case p.Name == "":
		return nil, &FieldError{Field: "name", Message: "Name is required"}
	case !mobilePattern.MatchString(p.Phone):
		return nil, &FieldError{Field: "phone", Message: "Please enter a valid 10-digit mobile number"}
	case p.Address == "":
		return nil, &FieldError{Field: "address", Message: "Address is required"}
	case !pincodePattern.MatchString(p.Pincode):
		return nil, &FieldError{Field: "pincode", Message: "Please enter a valid 6-digit pincode"}
	}
	if err := s.store.UpdateUserProfile(ctx, p); err != nil {
		return nil, fmt.Errorf("update profile: %w", err)
	}
	s.logger.Info("profile updated", zap.String("user_id", userID))

	stored, err := s.store.GetUserProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	return stored, nil
}

// SaveAddress stores the delivery address that checkout and the product
// listing prefer over the profile address.
func (s *Service) SaveAddress(ctx context.Context, userID, address, pincode string) (*models.UserAddress, error) {
	a := &models.UserAddress{
		UserID:  userID,
		Address: strings.TrimSpace(address),
		Pincode: strings.TrimSpace(pincode),
	}
	if a.Address == "" {
		return nil, &FieldError{Field: "address", Message: "Address is required"}
	}
	if !pincodePattern.MatchString(a.Pincode) {
		return nil, &FieldError{Field: "pincode", Message: "Please enter a valid 6-digit pincode"}
	}
	if err := s.store.SaveUserAddress(ctx, a); err != nil {
		return nil, fmt.Errorf("save address: %w", err)
	}
	s.logger.Info("delivery address saved", zap.String("user_id", userID))
	return a, nil
}

// DeliveryPincode is the pincode products are listed for: the saved
// address first, then the profile. It is "" when neither has one.
func (s *Service) DeliveryPincode(ctx context.Context, userID string) (string, error) {
	p, a, err := s.Get(ctx, userID)
	if err != nil {
		return "", err
	}
	if a != nil && a.Pincode != "" {
		return a.Pincode, nil
	}
	if p != nil {
		return p.Pincode, nil
	}
	return "", nil
}
