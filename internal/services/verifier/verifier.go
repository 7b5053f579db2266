// Package services содержит проверку оплаты по балансу кошелька.
package services

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/params"

	"github.com/magabrotheeeer/subscription-gate/internal/ledger"
	"github.com/magabrotheeeer/subscription-gate/internal/lib/sl"
	"github.com/magabrotheeeer/subscription-gate/internal/metrics"
)

// Outcome результат проверки баланса.
type Outcome int

const (
	// Sufficient баланс не меньше требуемого.
	Sufficient Outcome = iota
	// Insufficient баланс меньше требуемого.
	Insufficient
	// InvalidAddress адрес кошелька имеет неверный формат.
	InvalidAddress
	// LedgerUnavailable нода не настроена или недоступна.
	LedgerUnavailable
	// LedgerError запрос к ноде завершился ошибкой.
	LedgerError
)

func (o Outcome) String() string {
	switch o {
	case Sufficient:
		return "sufficient"
	case Insufficient:
		return "insufficient"
	case InvalidAddress:
		return "invalid_address"
	case LedgerUnavailable:
		return "ledger_unavailable"
	case LedgerError:
		return "ledger_error"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Result результат проверки. Balance заполнен, если баланс удалось получить.
type Result struct {
	Outcome Outcome
	Balance *big.Rat // в эфирах
}

// OK сообщает, что оплата подтверждена.
func (r Result) OK() bool {
	return r.Outcome == Sufficient
}

// Verifier проверяет, что на кошельке есть требуемая сумма.
type Verifier interface {
	Verify(ctx context.Context, address string, minimum *big.Rat) Result
}

// BalanceVerifier проверка через ledger-клиент. Ошибки клиента не выходят за её пределы.
type BalanceVerifier struct {
	client ledger.Client
	log    *slog.Logger
}

// NewBalanceVerifier создает новый экземпляр BalanceVerifier.
func NewBalanceVerifier(client ledger.Client, log *slog.Logger) *BalanceVerifier {
	return &BalanceVerifier{
		client: client,
		log:    log,
	}
}

// Verify возвращает Sufficient, только если баланс address не меньше minimum (в эфирах).
// Неверный адрес отклоняется без сетевого запроса.
func (v *BalanceVerifier) Verify(ctx context.Context, address string, minimum *big.Rat) (res Result) {
	const op = "services.verifier.Verify"
	log := v.log.With(sl.Op(op), slog.String("address", address))

	defer func() {
		if r := recover(); r != nil {
			log.Error("ledger client panicked", slog.Any("panic", r))
			res = Result{Outcome: LedgerError}
		}
		metrics.Verifications.WithLabelValues(res.Outcome.String()).Inc()
	}()

	if !v.client.ValidateAddress(address) {
		log.Info("rejected malformed wallet address")
		return Result{Outcome: InvalidAddress}
	}
	if !v.client.IsConnected(ctx) {
		log.Warn("ledger is not connected, failing verification")
		return Result{Outcome: LedgerUnavailable}
	}

	wei, err := v.client.BalanceOf(ctx, address)
	if err != nil {
		log.Error("failed to fetch balance", sl.Err(err))
		return Result{Outcome: LedgerError}
	}
	if wei == nil {
		log.Error("ledger returned empty balance")
		return Result{Outcome: LedgerError}
	}

	balance := WeiToEther(wei)
	log.Debug("fetched balance", slog.String("balance_eth", balance.FloatString(18)))
	if balance.Cmp(minimum) >= 0 {
		return Result{Outcome: Sufficient, Balance: balance}
	}
	return Result{Outcome: Insufficient, Balance: balance}
}

// WeiToEther переводит сумму в wei в эфиры без потери точности.
func WeiToEther(wei *big.Int) *big.Rat {
	return new(big.Rat).SetFrac(wei, big.NewInt(params.Ether))
}

// ApproveAll подтверждает любую оплату. Используется только при явном
// отключении проверки в конфигурации.
type ApproveAll struct{}

// Verify всегда возвращает Sufficient.
func (ApproveAll) Verify(context.Context, string, *big.Rat) Result {
	return Result{Outcome: Sufficient}
}
