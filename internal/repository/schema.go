package repository

import "strings"

// Schema 返回建表语句，每条语句单独执行，不依赖multiStatements
func Schema() []string {
	var stmts []string
	for _, s := range strings.Split(schema, "---") {
		if s = strings.TrimSpace(s); s != "" {
			stmts = append(stmts, s)
		}
	}
	return stmts
}

const schema = `
CREATE TABLE IF NOT EXISTS accounts (
    id            BIGINT AUTO_INCREMENT PRIMARY KEY,
    username      VARCHAR(250) NOT NULL,
    email         VARCHAR(254) NOT NULL,
    password_hash VARCHAR(255) NOT NULL,
    is_staff      BOOLEAN NOT NULL DEFAULT FALSE,
    date_joined   DATETIME(6) NOT NULL,
    UNIQUE KEY uq_accounts_username (username)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4

---

CREATE TABLE IF NOT EXISTS profiles (
    account_id BIGINT PRIMARY KEY,
    avatar     VARCHAR(255) NOT NULL,
    bio        TEXT NOT NULL,
    birth_date DATE NULL,
    CONSTRAINT fk_profiles_account FOREIGN KEY (account_id) REFERENCES accounts(id) ON DELETE CASCADE
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4

---

CREATE TABLE IF NOT EXISTS questions (
    id            BIGINT AUTO_INCREMENT PRIMARY KEY,
    question_text VARCHAR(200) NOT NULL,
    pub_date      DATETIME(6) NOT NULL,
    lifespan_days INT NOT NULL DEFAULT 7,
    KEY idx_questions_pub_date (pub_date)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4

---

CREATE TABLE IF NOT EXISTS choices (
    id          BIGINT AUTO_INCREMENT PRIMARY KEY,
    question_id BIGINT NOT NULL,
    choice_text VARCHAR(200) NOT NULL,
    position    INT NOT NULL DEFAULT 0,
    votes       INT UNSIGNED NOT NULL DEFAULT 0,
    KEY idx_choices_question (question_id, position),
    CONSTRAINT fk_choices_question FOREIGN KEY (question_id) REFERENCES questions(id) ON DELETE CASCADE
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4

---

CREATE TABLE IF NOT EXISTS votes (
    id          BIGINT AUTO_INCREMENT PRIMARY KEY,
    account_id  BIGINT NOT NULL,
    question_id BIGINT NOT NULL,
    choice_id   BIGINT NOT NULL,
    voted_at    DATETIME(6) NOT NULL,
    UNIQUE KEY uq_votes_account_question (account_id, question_id),
    CONSTRAINT fk_votes_account FOREIGN KEY (account_id) REFERENCES accounts(id) ON DELETE CASCADE,
    CONSTRAINT fk_votes_question FOREIGN KEY (question_id) REFERENCES questions(id) ON DELETE CASCADE,
    CONSTRAINT fk_votes_choice FOREIGN KEY (choice_id) REFERENCES choices(id) ON DELETE CASCADE
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4
`
