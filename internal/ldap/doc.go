/*
Package ldap provides the directory layer used by groupsync to reconcile
POSIX group membership.

# Architecture Overview

The package is organized into several core components:

  - Negotiator: Connection setup as an explicit state machine
  - Session: An authenticated connection implementing Client
  - Reader: Read-only queries normalized into Account and Group records
  - Mutator: Membership writes, batch first with per-value fallback
  - Provisioner: Idempotent create-or-repair of classification groups

# Connection Negotiation

Negotiate walks the states TryLocal, TryFallbackBind, Bound and Failed:

  - ldapi URIs attempt SASL EXTERNAL once and move to the fallback URI on failure
  - ldap URIs are upgraded with StartTLS before any bind; rejection is fatal
  - ldaps URIs use direct TLS
  - The bind step uses GSSAPI when a Kerberos realm is set, otherwise a simple bind
  - Read-only runs without credentials fall back to an anonymous bind

The transport is injected through Dialer so every transition can be tested
without a server.

# Membership Writes

Mutator sends each side of a change in batches of MemberBatchSize values. When
a batch is rejected every value is retried on its own, and values that already
hold the target state (present on add, absent on delete) count as benign.

# Error Handling

The package provides structured error handling through LDAPError:

  - Categorized errors (connection, authentication, validation, etc.)
  - Retryable error classification with exponential backoff in sessions
  - Result-code predicates such as IsValueExists and IsEntryExists
  - NegotiationError for sessions that could not be established
*/
package ldap
