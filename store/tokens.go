package store

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// KrogerTokens returns the single persisted token row, or
// gorm.ErrRecordNotFound when the app has never authenticated.
func (s *Store) KrogerTokens() (*KrogerToken, error) {
	var tok KrogerToken
	if err := s.db.First(&tok).Error; err != nil {
		return nil, err
	}
	return &tok, nil
}

// SaveKrogerTokens upserts the single token row.
func (s *Store) SaveKrogerTokens(access, refresh string, expiry float64) error {
	var tok KrogerToken
	err := s.db.First(&tok).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		tok = KrogerToken{}
	} else if err != nil {
		return fmt.Errorf("loading kroger tokens: %w", err)
	}
	tok.AccessToken = access
	if refresh != "" {
		tok.RefreshToken = refresh
	}
	tok.TokenExpiry = expiry
	if err := s.db.Save(&tok).Error; err != nil {
		return fmt.Errorf("saving kroger tokens: %w", err)
	}
	return nil
}
