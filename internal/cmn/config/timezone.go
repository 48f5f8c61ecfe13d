package config

import (
	"fmt"
	"time"
)

// setTimezone resolves cfg.TZ into cfg.Location.
//
// If cfg.TZ is empty the system local timezone is used and cfg.TZ is set to
// "UTC" or "UTC±H" where H is the current offset in hours.
func setTimezone(cfg *Core) error {
	if cfg.TZ != "" {
		loc, err := time.LoadLocation(cfg.TZ)
		if err != nil {
			return fmt.Errorf("failed to load timezone: %w", err)
		}
		cfg.Location = loc
		return nil
	}

	_, offset := time.Now().Zone()
	if offset != 0 {
		cfg.TZ = fmt.Sprintf("UTC%+d", offset/3600)
	} else {
		cfg.TZ = "UTC"
	}
	cfg.Location = time.Local
	return nil
}
