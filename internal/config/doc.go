// Package config manages user-level settings stored at
// ~/.permaskills/config.yaml: registry and gateway endpoints, the wallet
// location, and publish and install tuning.
package config
