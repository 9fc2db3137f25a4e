package service

import (
	"database/sql"
	"encoding/json"

	"go.uber.org/zap"
)

func jsonMarshal(v interface{}) ([]byte, error) { return json.Marshal(v) }

func jsonUnmarshal(raw []byte, v interface{}) error { return json.Unmarshal(raw, v) }

func zapNop() *zap.Logger { return zap.NewNop() }

func sqlErrNoRows() error { return sql.ErrNoRows }
