// Package settlement is the value-transfer layer beneath the bank. It moves
// balances atomically once the bank has authorized a movement; it performs
// no policy checks of its own beyond balance sufficiency.
package settlement

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus"

	"github.com/yourorg/agent-bank/internal/bankerr"
	"github.com/yourorg/agent-bank/internal/model"
	"github.com/yourorg/agent-bank/internal/types"
)

// Custody is everything the bank needs from settlement
type Custody interface {
	Deposit(owner types.Identity, amount uint64) error
	Debit(owner types.Identity, amount uint64, destination types.Identity) error
	Credit(owner types.Identity, amount uint64) error
	Balance(owner types.Identity) uint64

	TreasuryBalance() uint64
	FundTreasury(from types.Identity, amount uint64) error
	CreditTreasuryFrom(owner types.Identity, amount uint64) error
	PayFromTreasury(destination types.Identity, amount uint64) error
	PayYield(owner types.Identity, amount uint64) error

	Deploy(ctx context.Context, owner types.Identity, venue model.Venue, amount uint64) error
}

// VaultFor derives the custody account address of an agent
func VaultFor(owner types.Identity) types.Identity {
	h := crypto.Keccak256([]byte("agent-vault"), owner.Bytes())
	return types.Identity(common.BytesToAddress(h[12:]).Hex())
}

// Memory is an in-process custody ledger: external wallets, one vault per
// agent, the protocol treasury and per-venue positions.
type Memory struct {
	wallets   map[types.Identity]uint64
	vaults    map[types.Identity]uint64
	positions map[types.Identity]map[model.Venue]uint64
	treasury  uint64
	mu        sync.Mutex
}

// NewMemory creates an empty ledger
func NewMemory() *Memory {
	return &Memory{
		wallets:   make(map[types.Identity]uint64),
		vaults:    make(map[types.Identity]uint64),
		positions: make(map[types.Identity]map[model.Venue]uint64),
	}
}

// Fund mints into an external wallet (faucet for local use and tests)
func (m *Memory) Fund(wallet types.Identity, amount uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	next, ok := add(m.wallets[wallet], amount)
	if !ok {
		return bankerr.New(bankerr.KindInvalidArgument, "wallet balance overflow")
	}
	m.wallets[wallet] = next
	return nil
}

// WalletBalance returns an external wallet balance
func (m *Memory) WalletBalance(wallet types.Identity) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.wallets[wallet]
}

// Deposit moves amount from the owner's wallet into its vault
func (m *Memory) Deposit(owner types.Identity, amount uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.wallets[owner] < amount {
		return bankerr.New(bankerr.KindInsufficientFunds, "wallet holds %d, deposit needs %d", m.wallets[owner], amount)
	}
	next, ok := add(m.vaults[owner], amount)
	if !ok {
		return bankerr.New(bankerr.KindInvalidArgument, "vault balance overflow")
	}
	m.wallets[owner] -= amount
	m.vaults[owner] = next
	return nil
}

// Debit moves amount out of the owner's vault to destination
func (m *Memory) Debit(owner types.Identity, amount uint64, destination types.Identity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.vaults[owner] < amount {
		return bankerr.New(bankerr.KindInsufficientFunds, "vault holds %d, transfer needs %d", m.vaults[owner], amount)
	}
	next, ok := add(m.wallets[destination], amount)
	if !ok {
		return bankerr.New(bankerr.KindInvalidArgument, "wallet balance overflow")
	}
	m.vaults[owner] -= amount
	m.wallets[destination] = next
	return nil
}

// Credit adds amount to the owner's vault
func (m *Memory) Credit(owner types.Identity, amount uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	next, ok := add(m.vaults[owner], amount)
	if !ok {
		return bankerr.New(bankerr.KindInvalidArgument, "vault balance overflow")
	}
	m.vaults[owner] = next
	return nil
}

// Balance returns the vault balance of owner
func (m *Memory) Balance(owner types.Identity) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.vaults[owner]
}

// TreasuryBalance returns the protocol treasury balance
func (m *Memory) TreasuryBalance() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.treasury
}

// FundTreasury moves amount from a wallet into the treasury
func (m *Memory) FundTreasury(from types.Identity, amount uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.wallets[from] < amount {
		return bankerr.New(bankerr.KindInsufficientFunds, "wallet holds %d, funding needs %d", m.wallets[from], amount)
	}
	next, ok := add(m.treasury, amount)
	if !ok {
		return bankerr.New(bankerr.KindInvalidArgument, "treasury balance overflow")
	}
	m.wallets[from] -= amount
	m.treasury = next
	return nil
}

// CreditTreasuryFrom moves amount from an agent vault into the treasury (fees)
func (m *Memory) CreditTreasuryFrom(owner types.Identity, amount uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.vaults[owner] < amount {
		return bankerr.New(bankerr.KindInsufficientFunds, "vault holds %d, fee needs %d", m.vaults[owner], amount)
	}
	next, ok := add(m.treasury, amount)
	if !ok {
		return bankerr.New(bankerr.KindInvalidArgument, "treasury balance overflow")
	}
	m.vaults[owner] -= amount
	m.treasury = next
	return nil
}

// PayFromTreasury sends treasury funds to an external destination
func (m *Memory) PayFromTreasury(destination types.Identity, amount uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.treasury < amount {
		return bankerr.New(bankerr.KindInsufficientTreasuryFunds, "treasury holds %d, payment needs %d", m.treasury, amount)
	}
	next, ok := add(m.wallets[destination], amount)
	if !ok {
		return bankerr.New(bankerr.KindInvalidArgument, "wallet balance overflow")
	}
	m.treasury -= amount
	m.wallets[destination] = next
	return nil
}

// PayYield moves amount from the treasury into the owner's vault
func (m *Memory) PayYield(owner types.Identity, amount uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.treasury < amount {
		return bankerr.New(bankerr.KindInsufficientTreasuryFunds, "treasury holds %d, yield needs %d", m.treasury, amount)
	}
	next, ok := add(m.vaults[owner], amount)
	if !ok {
		return bankerr.New(bankerr.KindInvalidArgument, "vault balance overflow")
	}
	m.treasury -= amount
	m.vaults[owner] = next
	return nil
}

// Deploy moves vault funds into a venue position
func (m *Memory) Deploy(_ context.Context, owner types.Identity, venue model.Venue, amount uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.vaults[owner] < amount {
		return bankerr.New(bankerr.KindInsufficientFunds, "vault holds %d, deploy needs %d", m.vaults[owner], amount)
	}
	next, ok := add(m.positions[owner][venue], amount)
	if !ok {
		return bankerr.New(bankerr.KindInvalidArgument, "position overflow")
	}
	m.vaults[owner] -= amount
	if m.positions[owner] == nil {
		m.positions[owner] = make(map[model.Venue]uint64)
	}
	m.positions[owner][venue] = next

	logrus.WithFields(logrus.Fields{
		"agent":  owner,
		"vault":  VaultFor(owner),
		"venue":  venue,
		"amount": amount,
	}).Debug("Funds deployed to venue")
	return nil
}

// Positions returns a copy of the owner's venue positions
func (m *Memory) Positions(owner types.Identity) map[model.Venue]uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[model.Venue]uint64, len(m.positions[owner]))
	for v, amt := range m.positions[owner] {
		out[v] = amt
	}
	return out
}

func add(a, b uint64) (uint64, bool) {
	s := a + b
	return s, s >= a
}
