package system

import (
	"errors"

	"autolearn/internal/logging"
)

// Close releases resources held by a System. It is safe to call on a
// partially booted System and more than once.
//
// Open SQLite handles keep the database file locked, so tests using
// TempDir must Close before cleanup.
func (s *System) Close() error {
	if s == nil {
		return nil
	}

	var errs []error

	if s.Stop != nil {
		s.Stop.Stop()
	}

	if s.Usage != nil {
		if err := s.Usage.Save(); err != nil {
			errs = append(errs, err)
		}
	}

	if s.Store != nil {
		if err := s.Store.Close(); err != nil {
			errs = append(errs, err)
		}
		s.Store = nil
	}

	if c, ok := s.Engine.(interface{ Close() error }); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.Engine = nil

	// Sync errors on stderr are expected on some platforms.
	_ = logging.Sync()

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
