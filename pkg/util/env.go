/*
Copyright 2023.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package util contains small helpers shared by the configuration surfaces.
package util

import (
	"os"
	"strconv"
	"time"
)

// GetEnvDefault returns the value of an environment variable or a default value.
func GetEnvDefault(key, def string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return def
}

// GetEnvIntDefault returns the value of an environment variable or a default value.
func GetEnvIntDefault(key string, def int) int {
	if val := GetEnvDefault(key, strconv.Itoa(def)); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return def
}

// GetEnvUint16Default returns the value of an environment variable or a default value.
func GetEnvUint16Default(key string, def uint16) uint16 {
	if val := GetEnvDefault(key, strconv.FormatUint(uint64(def), 10)); val != "" {
		if i, err := strconv.ParseUint(val, 10, 16); err == nil {
			return uint16(i)
		}
	}
	return def
}

// GetEnvBoolDefault returns the value of an environment variable or a default value.
func GetEnvBoolDefault(key string, def bool) bool {
	if val := GetEnvDefault(key, strconv.FormatBool(def)); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return def
}

// GetEnvDurationDefault returns the value of an environment variable or a default value.
func GetEnvDurationDefault(key string, def time.Duration) time.Duration {
	if val := GetEnvDefault(key, def.String()); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return def
}
