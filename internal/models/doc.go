// Package models defines the core domain entities for the settlement engine.
//
// # Entities
//
//   - Payment: a completed member micro-payment read from the ledger
//   - Member: directory entry for a payer, delegate or coordinator
//   - Settlement: one calendar day's immutable aggregation of completed payments
//   - CommissionPayout: a delegate/coordinator share disbursed via the payment gateway
//   - BankTransfer: the SHA or MWU bank-rail share of a settlement
//
// # Design Principles
//
//  1. All monetary values are decimal.Decimal; arithmetic must be exact with
//     zero rounding drift (Settlement.TotalsDrift enforces conservation).
//  2. Settlement dates are plain "YYYY-MM-DD" strings so that day boundaries
//     are unambiguous across stores and time zones.
//  3. Relationships use ID strings instead of struct pointers to avoid
//     circular references between entities.
//  4. Status transitions are owned by the service layer; models only declare
//     the vocabulary.
package models
