package stable

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"stablecore/core/pricing"
)

var (
	errNilEngine = errors.New("stable engine: engine not initialised")

	// Input validation.
	ErrNeedsMoreThanZero = errors.New("stable engine: amount must be more than zero")
	ErrNotAllowedToken   = errors.New("stable engine: token not allowed")
	ErrZeroAddress       = errors.New("stable engine: zero address")

	// External effects.
	ErrTransferFailed = errors.New("stable engine: transfer failed")
	ErrMintFailed     = errors.New("stable engine: mint failed")

	// Invariants.
	ErrBreaksHealthFactor      = errors.New("stable engine: health factor below minimum")
	ErrHealthFactorOk          = errors.New("stable engine: health factor ok")
	ErrHealthFactorNotImproved = errors.New("stable engine: health factor not improved")

	// Oracle and arithmetic.
	ErrFeedUnavailable        = pricing.ErrFeedUnavailable
	ErrValuationOverflow      = errors.New("stable engine: valuation overflow")
	ErrInsufficientCollateral = errors.New("stable engine: insufficient collateral")
	ErrBurnExceedsDebt        = errors.New("stable engine: burn exceeds debt")

	// Construction.
	ErrTokenAndFeedLengthMismatch = errors.New("stable engine: token addresses and price feed addresses must be same length")
	ErrDuplicateToken             = errors.New("stable engine: duplicate collateral token")
	ErrUnknownCollateralAsset     = errors.New("stable engine: collateral asset handle not available")
	ErrInvalidParams              = errors.New("stable engine: invalid parameters")

	// Execution model.
	ErrReentrantCall      = errors.New("stable engine: reentrant call")
	ErrRollbackIncomplete = errors.New("stable engine: rollback incomplete")
)

// NotAllowedTokenError carries the rejected token identifier.
type NotAllowedTokenError struct {
	Token common.Address
}

func (e *NotAllowedTokenError) Error() string {
	return fmt.Sprintf("%s: %s", ErrNotAllowedToken.Error(), e.Token.Hex())
}

func (e *NotAllowedTokenError) Is(target error) bool { return target == ErrNotAllowedToken }

// BreaksHealthFactorError reports the health factor that failed the minimum.
type BreaksHealthFactorError struct {
	User         common.Address
	HealthFactor *uint256.Int
}

func (e *BreaksHealthFactorError) Error() string {
	return fmt.Sprintf("%s: %s has %s", ErrBreaksHealthFactor.Error(), e.User.Hex(), FormatWad(e.HealthFactor))
}

func (e *BreaksHealthFactorError) Is(target error) bool { return target == ErrBreaksHealthFactor }

// HealthFactorOkError is returned when liquidating a position that is healthy.
type HealthFactorOkError struct {
	User         common.Address
	HealthFactor *uint256.Int
}

func (e *HealthFactorOkError) Error() string {
	return fmt.Sprintf("%s: %s has %s", ErrHealthFactorOk.Error(), e.User.Hex(), FormatWad(e.HealthFactor))
}

func (e *HealthFactorOkError) Is(target error) bool { return target == ErrHealthFactorOk }

// effectResult folds the (success, error) pair reported by a capability into a
// single error. A false success without an error is still a failure.
func effectResult(ok bool, err error, kind error) error {
	if err != nil {
		return fmt.Errorf("%w: %w", kind, err)
	}
	if !ok {
		return kind
	}
	return nil
}
