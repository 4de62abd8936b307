package runtime

// Rent parameters. Accounts holding data must keep at least two years of
// rent to stay exempt.
type Rent struct {
	LamportsPerByteYear uint64
	ExemptionYears      uint64
}

// AccountStorageOverhead is charged on top of every account's data length.
const AccountStorageOverhead = 128

// DefaultRent returns mainnet rent parameters.
func DefaultRent() Rent {
	return Rent{LamportsPerByteYear: 3480, ExemptionYears: 2}
}

// MinimumBalance returns the rent-exempt balance for dataLen bytes.
func (r Rent) MinimumBalance(dataLen uint64) uint64 {
	return (AccountStorageOverhead + dataLen) * r.LamportsPerByteYear * r.ExemptionYears
}

// IsExempt reports whether lamports cover dataLen bytes.
func (r Rent) IsExempt(lamports, dataLen uint64) bool {
	return lamports >= r.MinimumBalance(dataLen)
}
