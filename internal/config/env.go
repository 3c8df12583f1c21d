package config

import "github.com/joho/godotenv"

// LoadEnv loads variables from a .env file in the working directory into the
// process environment. Variables that are already set are left alone.
// A missing file is returned as an error that satisfies os.IsNotExist.
func LoadEnv(filenames ...string) error {
	return godotenv.Load(filenames...)
}
