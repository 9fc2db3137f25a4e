package database

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/tp-workflow-api/pkg/config"
)

func TestDSNQuotesAwkwardValues(t *testing.T) {
	dsn := DSN(config.DatabaseConfig{
		Host:     "db",
		Port:     5432,
		User:     "tp",
		Password: `it's secret`,
		Name:     "teaching_practice",
		SSLMode:  "disable",
	})
	assert.Equal(t, `host=db port=5432 user=tp password='it\'s secret' dbname=teaching_practice sslmode=disable`, dsn)
}

func TestDSNEmptyPassword(t *testing.T) {
	dsn := DSN(config.DatabaseConfig{Host: "localhost", Port: 5433, User: "postgres", Name: "tp", SSLMode: "require"})
	assert.Contains(t, dsn, "password=''")
	assert.Contains(t, dsn, "port=5433")
}
