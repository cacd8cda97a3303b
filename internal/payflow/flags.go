package payflow

import "strings"

// Flags is a bitset of orthogonal payment characteristics.
type Flags uint8

const (
	// FlagMerchantInitiated marks a charge that is not triggered by a live shopper session.
	FlagMerchantInitiated Flags = 1 << iota
	// FlagManualCapture authorizes the amount and leaves capture for later.
	FlagManualCapture
	// FlagRecurring marks payments that belong to a subscription.
	FlagRecurring
	// FlagChangingSubscriptionMethod marks a payment that only swaps a subscription's credential.
	FlagChangingSubscriptionMethod
	// FlagSaveToStore asks for the credential to be kept for future charges by the store.
	FlagSaveToStore
	// FlagSaveToPlatform asks for the credential to be kept on the processor platform as well.
	FlagSaveToPlatform
)

var flagNames = []struct {
	flag Flags
	name string
}{
	{FlagMerchantInitiated, "merchant_initiated"},
	{FlagManualCapture, "manual_capture"},
	{FlagRecurring, "recurring"},
	{FlagChangingSubscriptionMethod, "changing_subscription_method"},
	{FlagSaveToStore, "save_to_store"},
	{FlagSaveToPlatform, "save_to_platform"},
}

// Has reports whether every bit of flag is set.
func (f Flags) Has(flag Flags) bool {
	return flag != 0 && f&flag == flag
}

// Names returns the stable names of the set flags.
func (f Flags) Names() []string {
	names := make([]string, 0, len(flagNames))
	for _, entry := range flagNames {
		if f.Has(entry.flag) {
			names = append(names, entry.name)
		}
	}
	return names
}

func (f Flags) String() string {
	names := f.Names()
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, "|")
}

// ParseFlags rebuilds a bitset from names produced by Names. Unknown names are ignored.
func ParseFlags(names []string) Flags {
	var out Flags
	for _, name := range names {
		trimmed := strings.ToLower(strings.TrimSpace(name))
		for _, entry := range flagNames {
			if entry.name == trimmed {
				out |= entry.flag
			}
		}
	}
	return out
}

func (f Flags) wantsSave() bool {
	return f.Has(FlagSaveToStore) || f.Has(FlagSaveToPlatform)
}
