// Package keys owns all provisioned key material. Other packages refer to
// keys through opaque handles and borrow the material for one cryptographic
// operation at a time; the handle carries the NID or AID discriminator so
// decrypt paths can enumerate candidates without touching key bytes.
package keys
