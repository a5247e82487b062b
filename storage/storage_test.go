package storage

import (
	"testing"

	"github.com/abcfe/abcfe-wallet/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// low scrypt cost keeps the tests fast
var testVaultCfg = config.Vault{ScryptN: 1 << 10, ScryptR: 8, ScryptP: 1}

func TestInitDB(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.DB.Path = t.TempDir() + "/db/"

	db, err := InitDB(cfg)
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Put([]byte("k"), []byte("v")))
	v, err := db.Get([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), v)

	ok, err := db.Has([]byte("k"))
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, db.Delete([]byte("k")))
	_, err = db.Get([]byte("k"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestVaultRoundTrip(t *testing.T) {
	db, err := OpenMemDB()
	require.NoError(t, err)
	defer db.Close()

	v := NewVault(db, testVaultCfg)
	ok, err := v.Exists()
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = v.Load([]byte("pw"))
	assert.ErrorIs(t, err, ErrVaultNotFound)

	plain := []byte(`[{"type":"Manual Signer","data":["0x8617e340b3d01fa5f11f306f4090fd50e238070d"]}]`)
	require.NoError(t, v.Save([]byte("correct horse"), plain))

	raw, err := db.Get([]byte("vault:v1"))
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "Manual Signer")

	got, err := v.Load([]byte("correct horse"))
	require.NoError(t, err)
	assert.Equal(t, plain, got)

	_, err = v.Load([]byte("wrong"))
	assert.ErrorIs(t, err, ErrIncorrectPassword)

	assert.ErrorIs(t, v.Save(nil, plain), ErrEmptyPassword)

	require.NoError(t, v.Clear())
	ok, err = v.Exists()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPreferences(t *testing.T) {
	db, err := OpenMemDB()
	require.NoError(t, err)
	defer db.Close()

	p := NewPreferences(db)
	addr, err := p.SelectedAddress()
	require.NoError(t, err)
	assert.Empty(t, addr)

	require.NoError(t, p.SetSelectedAddress("0xabc"))
	addr, err = p.SelectedAddress()
	require.NoError(t, err)
	assert.Equal(t, "0xabc", addr)

	require.NoError(t, p.SetSelectedAddress(""))
	addr, err = p.SelectedAddress()
	require.NoError(t, err)
	assert.Empty(t, addr)
}

func TestVaultInfoAndEntries(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.DB.Path = t.TempDir() + "/db/"

	db, err := InitDB(cfg)
	require.NoError(t, err)

	v := NewVault(db, testVaultCfg)
	_, err = v.Info()
	assert.ErrorIs(t, err, ErrVaultNotFound)

	require.NoError(t, v.Save([]byte("pw"), []byte("secret")))
	require.NoError(t, NewPreferences(db).SetSelectedAddress("0xabc"))

	info, err := v.Info()
	require.NoError(t, err)
	assert.Equal(t, "scrypt", info.KDF)
	assert.Equal(t, testVaultCfg.ScryptN, info.N)
	assert.Equal(t, len("secret")+16, info.CipherTextSz)
	require.NoError(t, db.Close())

	ro, err := OpenReadOnly(cfg)
	require.NoError(t, err)
	defer ro.Close()

	entries, err := ro.Entries("pref:")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "pref:selected", entries[0].Key)

	all, err := ro.Entries("")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	cfg.DB.Path = t.TempDir() + "/missing/"
	_, err = OpenReadOnly(cfg)
	assert.Error(t, err)
}
