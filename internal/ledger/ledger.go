// Package ledger предоставляет доступ к балансам кошельков в сети Ethereum.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

// ErrDisabled возвращается клиентом, для которого не настроен адрес ноды.
var ErrDisabled = errors.New("ledger client is not configured")

// Client возможности ledger, необходимые для проверки оплаты.
type Client interface {
	// BalanceOf возвращает текущий баланс адреса в wei.
	BalanceOf(ctx context.Context, address string) (*big.Int, error)
	// IsConnected сообщает, доступна ли нода.
	IsConnected(ctx context.Context) bool
	// ValidateAddress проверяет формат адреса без сетевых запросов.
	ValidateAddress(address string) bool
}

type backend interface {
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	ChainID(ctx context.Context) (*big.Int, error)
	Close()
}

// EthClient клиент JSON-RPC ноды Ethereum. Каждый вызов ограничен таймаутом.
type EthClient struct {
	backend backend
	timeout time.Duration
}

// Dial подключается к ноде по адресу rawURL (http, https, ws или ipc).
func Dial(ctx context.Context, rawURL string, timeout time.Duration) (*EthClient, error) {
	const op = "ledger.Dial"

	c, err := ethclient.DialContext(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &EthClient{backend: c, timeout: timeout}, nil
}

// BalanceOf возвращает баланс адреса на последнем блоке.
func (c *EthClient) BalanceOf(ctx context.Context, address string) (*big.Int, error) {
	const op = "ledger.BalanceOf"

	if !c.ValidateAddress(address) {
		return nil, fmt.Errorf("%s: invalid address %q", op, address)
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	balance, err := c.backend.BalanceAt(ctx, common.HexToAddress(address), nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return balance, nil
}

// IsConnected проверяет доступность ноды запросом chain id.
func (c *EthClient) IsConnected(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	_, err := c.backend.ChainID(ctx)
	return err == nil
}

// ValidateAddress проверяет, что строка является hex-адресом Ethereum.
func (c *EthClient) ValidateAddress(address string) bool {
	return common.IsHexAddress(address)
}

// Close закрывает соединение с нодой.
func (c *EthClient) Close() {
	c.backend.Close()
}

// Disabled клиент для конфигурации без ноды: он всегда недоступен.
type Disabled struct{}

// BalanceOf всегда возвращает ErrDisabled.
func (Disabled) BalanceOf(context.Context, string) (*big.Int, error) {
	return nil, ErrDisabled
}

// IsConnected всегда false.
func (Disabled) IsConnected(context.Context) bool {
	return false
}

// ValidateAddress проверяет формат адреса так же, как EthClient.
func (Disabled) ValidateAddress(address string) bool {
	return common.IsHexAddress(address)
}
