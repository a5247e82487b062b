package protocol

const (
	// Vault related keys
	PrefixVault = "vault:"
	KeyVault    = "vault:v1" // vault:v1 = encrypted serialized keyrings (json envelope)

	// Preference related keys
	PrefixPref      = "pref:"
	KeyPrefSelected = "pref:selected" // pref:selected = selected account address (hex)
)
