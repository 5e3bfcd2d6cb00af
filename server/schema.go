package server

import (
	"database/sql"
	"fmt"

	"github.com/apex/log"
)

// InitSchema creates the hazard tables if they don't exist
func InitSchema(db *sql.DB) error {
	log.Info("Initializing hazard database schema...")

	// Create hazards table
	hazardsTableSQL := `
	CREATE TABLE IF NOT EXISTS hazards(
		id BIGINT NOT NULL AUTO_INCREMENT,
		category_id INT NOT NULL,
		severity INT NOT NULL DEFAULT 3,
		note VARCHAR(500),
		lat DOUBLE NOT NULL,
		lng DOUBLE NOT NULL,
		reports_count INT NOT NULL DEFAULT 1,
		upvotes INT NOT NULL DEFAULT 0,
		downvotes INT NOT NULL DEFAULT 0,
		is_active BOOL NOT NULL DEFAULT true,
		last_reported_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (id),
		INDEX lat_lng_index (lat, lng),
		INDEX category_id_index (category_id),
		INDEX is_active_index (is_active)
	)`

	if _, err := db.Exec(hazardsTableSQL); err != nil {
		return fmt.Errorf("failed to create hazards table: %w", err)
	}
	log.Info("Hazards table created/verified")

	// Create hazard_reporters table
	hazardReportersTableSQL := `
	CREATE TABLE IF NOT EXISTS hazard_reporters(
		hazard_id BIGINT NOT NULL,
		device_uuid VARCHAR(255) NOT NULL,
		client_ref VARCHAR(64),
		platform VARCHAR(32),
		app_version VARCHAR(32),
		locale VARCHAR(16),
		reported_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		INDEX hazard_id_index (hazard_id),
		INDEX device_uuid_index (device_uuid)
	)`

	if _, err := db.Exec(hazardReportersTableSQL); err != nil {
		return fmt.Errorf("failed to create hazard_reporters table: %w", err)
	}
	log.Info("Hazard_reporters table created/verified")

	// Create hazard_votes table
	hazardVotesTableSQL := `
	CREATE TABLE IF NOT EXISTS hazard_votes(
		hazard_id BIGINT NOT NULL,
		device_uuid VARCHAR(255) NOT NULL,
		vote INT NOT NULL,
		voted_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE INDEX hazard_device_index (hazard_id, device_uuid)
	)`

	if _, err := db.Exec(hazardVotesTableSQL); err != nil {
		return fmt.Errorf("failed to create hazard_votes table: %w", err)
	}
	log.Info("Hazard_votes table created/verified")

	log.Info("Hazard database schema initialization completed")
	return nil
}
