// Package oracle defines the decision-oracle abstraction: a conversation
// transcript goes in, and either free text or a batch of tool calls comes
// out. Concrete providers live in subpackages.
package oracle
