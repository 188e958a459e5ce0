// Package db dispatches to the configured database driver.
package db

import (
	"github.com/pkg/errors"

	"github.com/inkmentor/inkmentor/internal/profile"
	"github.com/inkmentor/inkmentor/store"
	"github.com/inkmentor/inkmentor/store/db/postgres"
	"github.com/inkmentor/inkmentor/store/db/sqlite"
)

// NewDBDriver creates a new database driver based on the profile.
func NewDBDriver(profile *profile.Profile) (store.Driver, error) {
	switch profile.Driver {
	case "sqlite":
		return sqlite.NewDB(profile)
	case "postgres":
		return postgres.NewDB(profile)
	default:
		return nil, errors.Errorf("unknown db driver: %s", profile.Driver)
	}
}
