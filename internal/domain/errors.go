package domain

import "errors"

var (
	ErrWikiNotFound   = errors.New("wiki not found")
	ErrCatalogEmpty   = errors.New("catalog contains no wikis")
	ErrUpstreamClosed = errors.New("upstream stream closed")
)
