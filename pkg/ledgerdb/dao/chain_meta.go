package dao

import "github.com/uptrace/bun"

// ChainMetaDao is a data access object that maps directly to the 'chain_meta' table in PostgreSQL.
type ChainMetaDao struct {
	bun.BaseModel `bun:"table:chain_meta"`
	Key           string `json:"key" bun:",pk,type:varchar(128)"`
	Value         string `json:"value" bun:",notnull,type:text"`
}
