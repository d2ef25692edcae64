package contract

import (
	"crypto/sha512"
	"encoding/hex"
)

// State address prefixes of the contract-execution runtime.
const (
	namespaceRegistryPrefix = "00ec00"
	contractRegistryPrefix  = "00ec01"
	contractPrefix          = "00ec02"

	addressHashLen = 58
)

func hashAddr(s string) string {
	sum := sha512.Sum512([]byte(s))
	return hex.EncodeToString(sum[:])[:addressHashLen]
}

// ContractRegistryAddress is the well-known root address written when a
// contract's registry entry is created. The state-change classifier treats a
// Set at this address as the contract-created marker.
func ContractRegistryAddress(name string) string {
	return contractRegistryPrefix + hashAddr(name)
}

// ContractAddress locates one uploaded contract version.
func ContractAddress(name, version string) string {
	return contractPrefix + hashAddr(name+","+version)
}

// NamespaceRegistryAddress locates the registry entry for a state prefix.
func NamespaceRegistryAddress(prefix string) string {
	return namespaceRegistryPrefix + hashAddr(prefix)
}
