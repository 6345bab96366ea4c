// Copyright 2024-2026 Aiku AI
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package backup contains the message-mapping and state-synchronization
// engine of groupbackup. It decides, for every inbound source event, which
// backup destination and format to use, keeps a durable correlation between
// source and backup messages, and propagates later state changes (edit,
// recall) from source to backup.
//
// The package is platform-neutral: the chat transport and the archive file
// writer are capability interfaces, implemented elsewhere (pkg/telegram,
// pkg/backup/archive) and injected at construction.
package backup
