package common

import "time"

const (
	// OctasPerCoin is the number of base units in one whole coin.
	OctasPerCoin = 100_000_000

	// CoinDecimals is the number of fractional digits of a coin amount.
	CoinDecimals = 8

	// ExpiringSoonWindow marks active permissions that are close to expiry.
	ExpiringSoonWindow = 7 * 24 * time.Hour

	// MaxGrantHorizon bounds how far in the future an expiry may be set.
	MaxGrantHorizon = 365 * 24 * time.Hour

	// PresignedURLTTL is the lifetime of presigned resource links.
	PresignedURLTTL = 15 * time.Minute
)
